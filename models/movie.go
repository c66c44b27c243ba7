package models

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

type Movie struct {
	ID            int64           `json:"id" db:"id"`
	UUID          string          `json:"uuid" db:"uuid"`
	Name          string          `json:"name" db:"name"`
	Year          int             `json:"year" db:"year"`
	Time          int             `json:"time" db:"time"`
	IMDB          float64         `json:"imdb" db:"imdb"`
	Votes         int             `json:"votes" db:"votes"`
	MetaScore     sql.NullFloat64 `json:"-" db:"meta_score"`
	Gross         sql.NullFloat64 `json:"-" db:"gross"`
	Description   string          `json:"description" db:"description"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Certification string          `json:"certification" db:"certification"`
	Genres        []string        `json:"genres" db:"-"`
	Stars         []string        `json:"stars" db:"-"`
	Directors     []string        `json:"directors" db:"-"`
}

// MoviePage is one page of the catalog, newest movies first.
type MoviePage struct {
	Movies []Movie `json:"movies"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Size   int     `json:"per_page"`
}
