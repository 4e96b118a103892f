// Package models defines the core data types shared across the listing scanner.
package models

import "time"

// OfferingType is the kind of offering a listing advertises.
type OfferingType string

const (
	OfferingRental OfferingType = "rental"
	OfferingSale   OfferingType = "sale"
)

// PropertyType is the kind of property a listing describes.
type PropertyType string

const (
	PropertyApartment PropertyType = "apartment"
	PropertyHouse     PropertyType = "house"
	PropertyRoom      PropertyType = "room"
	PropertyStudio    PropertyType = "studio"
)

// InteriorType is the furnishing state of a rental.
type InteriorType string

const (
	InteriorShell       InteriorType = "shell"
	InteriorUpholstered InteriorType = "upholstered"
	InteriorFurnished   InteriorType = "furnished"
)

// Listing is the unified listing model for all sources. One Listing is produced
// per fetched detail page; re-ingestion replaces the stored row rather than
// mutating it in place.
type Listing struct {
	ID       int64  `json:"id,omitempty"`
	Source   string `json:"source"`
	SourceID string `json:"sourceId"`
	URL      string `json:"url"`

	Title        string `json:"title"`
	Address      string `json:"address"`
	PostalCode   string `json:"postalCode,omitempty"`
	City         string `json:"city"`
	Neighborhood string `json:"neighborhood,omitempty"`

	Price        string  `json:"price,omitempty"`
	PriceNumeric int     `json:"priceNumeric"`
	PricePeriod  string  `json:"pricePeriod,omitempty"`
	ServiceCosts float64 `json:"serviceCosts,omitempty"`

	Description  string       `json:"description,omitempty"`
	PropertyType PropertyType `json:"propertyType,omitempty"`
	OfferingType OfferingType `json:"offeringType,omitempty"`
	LivingArea   int          `json:"livingArea"` // m²
	PlotArea     int          `json:"plotArea,omitempty"`
	Rooms        int          `json:"rooms,omitempty"`
	Bedrooms     int          `json:"bedrooms,omitempty"`
	Bathrooms    int          `json:"bathrooms,omitempty"`
	Floors       int          `json:"floors,omitempty"`
	Balcony      bool         `json:"balcony,omitempty"`
	Garden       bool         `json:"garden,omitempty"`
	Parking      bool         `json:"parking,omitempty"`

	ConstructionYear int          `json:"constructionYear,omitempty"`
	EnergyLabel      string       `json:"energyLabel,omitempty"`
	Interior         InteriorType `json:"interior,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	DateListed    string    `json:"dateListed,omitempty"`
	DateAvailable string    `json:"dateAvailable,omitempty"`
	DateScraped   time.Time `json:"dateScraped"`

	Images []string `json:"images,omitempty"`

	// PropertyHash is the cross-source identity fingerprint. Computed by the
	// dedup engine before persistence; empty on a freshly parsed listing.
	PropertyHash string `json:"propertyHash,omitempty"`
}

// DuplicatePair links two listings from different sources that probably
// describe the same physical property. The underlying listings are never
// merged; both stay independently addressable.
type DuplicatePair struct {
	PropertyHash string    `json:"propertyHash"`
	Source1      string    `json:"source1"`
	SourceID1    string    `json:"sourceId1"`
	Source2      string    `json:"source2"`
	SourceID2    string    `json:"sourceId2"`
	Similarity   float64   `json:"similarity"`
	DetectedAt   time.Time `json:"detectedAt"`
}

// Normalize orders the pair so that Source1 < Source2, giving every unordered
// pair of listings exactly one stored representation.
func (p *DuplicatePair) Normalize() {
	if p.Source1 > p.Source2 || (p.Source1 == p.Source2 && p.SourceID1 > p.SourceID2) {
		p.Source1, p.Source2 = p.Source2, p.Source1
		p.SourceID1, p.SourceID2 = p.SourceID2, p.SourceID1
	}
}
