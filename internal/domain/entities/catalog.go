package entities

// Country is a catalog row owned by the boundary import tooling. The ingest
// pipeline only reads it. Geometry holds a GeoJSON Polygon or MultiPolygon.
type Country struct {
	ID              int64  `gorm:"primaryKey" json:"id"`
	ISO2            string `gorm:"column:iso2;size:2;not null;uniqueIndex" json:"iso2"`
	ISO3            string `gorm:"column:iso3;size:3" json:"iso3,omitempty"`
	Name            string `gorm:"not null" json:"name"`
	Continent       string `gorm:"size:32" json:"continent,omitempty"`
	Geometry        string `gorm:"type:text" json:"-"`
	FineCellTotal   *int64 `gorm:"column:fine_cell_total" json:"fine_cell_total,omitempty"`
	CoarseCellTotal *int64 `gorm:"column:coarse_cell_total" json:"coarse_cell_total,omitempty"`
}

func (Country) TableName() string { return "countries" }

// Region is a first-level subdivision (state, province) of a Country.
type Region struct {
	ID              int64  `gorm:"primaryKey" json:"id"`
	CountryID       int64  `gorm:"column:country_id;not null;index" json:"country_id"`
	Code            string `gorm:"size:16;not null;index" json:"code"`
	Name            string `gorm:"not null" json:"name"`
	Geometry        string `gorm:"type:text" json:"-"`
	FineCellTotal   *int64 `gorm:"column:fine_cell_total" json:"fine_cell_total,omitempty"`
	CoarseCellTotal *int64 `gorm:"column:coarse_cell_total" json:"coarse_cell_total,omitempty"`
}

func (Region) TableName() string { return "regions" }

// PlaceRef is the display identity of a discovered country or region.
type PlaceRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Ref returns the display identity of the country, keyed by its ISO2 code.
func (c *Country) Ref() PlaceRef {
	return PlaceRef{ID: c.ID, Name: c.Name, Code: c.ISO2}
}

// Ref returns the display identity of the region.
func (r *Region) Ref() PlaceRef {
	return PlaceRef{ID: r.ID, Name: r.Name, Code: r.Code}
}
