package model

// Language is the public description of a judge language.
type Language struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Compiled bool   `json:"compiled"`
}
