package scrape

import (
	"fmt"
	"strings"
	"time"

	"github.com/listing-scanner/internal/models"
)

const parariusBaseURL = "https://www.pararius.com"

// Pararius scrapes pararius.com rental search results.
type Pararius struct{}

func (Pararius) Source() string { return "pararius" }

// BuildSearchURL builds the pararius apartment search URL for a city. The
// site has no publication-date filter; results are newest first by default.
func (Pararius) BuildSearchURL(target models.ScanTarget, days int) (string, error) {
	if target.Kind == models.TargetQueryURL {
		return target.QueryURL, nil
	}
	if target.City == "" {
		return "", fmt.Errorf("pararius: city is required")
	}
	return fmt.Sprintf("%s/apartments/%s", parariusBaseURL, target.City), nil
}

// ParseSearchPage extracts listing detail URLs from a pararius search page.
func (p Pararius) ParseSearchPage(body []byte) ([]string, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, &ParseError{Source: p.Source(), Reason: "invalid search page HTML", Cause: err}
	}

	hrefs := collectLinks(doc, func(href string) bool {
		return strings.Contains(href, "-for-rent/") && !strings.Contains(href, "/apartments/")
	})

	urls := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		if strings.HasPrefix(href, "/") {
			href = parariusBaseURL + href
		}
		urls = append(urls, href)
	}
	return urls, nil
}

// ParseListingPage extracts listing fields from a pararius detail page.
func (p Pararius) ParseListingPage(body []byte, pageURL string) (*models.Listing, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, &ParseError{Source: p.Source(), URL: pageURL, Reason: "invalid listing page HTML", Cause: err}
	}

	heading := findFirst(doc, "h1", nil)
	if heading == nil {
		return nil, &ParseError{Source: p.Source(), URL: pageURL, Reason: "missing listing heading"}
	}

	listing := &models.Listing{
		Source:       p.Source(),
		SourceID:     parariusSourceID(pageURL),
		URL:          pageURL,
		Title:        nodeText(heading),
		OfferingType: models.OfferingRental,
		DateScraped:  time.Now().UTC(),
	}

	// Title reads "Apartment Dam 1" or similar; the address is the part
	// after the property kind.
	listing.Address = strings.TrimSpace(strings.TrimPrefix(
		strings.TrimPrefix(listing.Title, "Apartment"), "House"))
	if sub := findFirst(doc, "div", func(n *htmlNode) bool {
		return hasClass(n, "listing-detail-summary__location")
	}); sub != nil {
		subText := nodeText(sub)
		if i := strings.LastIndex(subText, " "); i > 0 {
			listing.PostalCode = strings.TrimSpace(subText[:i])
			listing.City = strings.ToLower(strings.TrimSpace(subText[i+1:]))
		}
	}

	pageText := nodeText(doc)
	listing.PriceNumeric = extractPrice(pageText)
	if listing.PriceNumeric > 0 {
		listing.Price = fmt.Sprintf("€%d per month", listing.PriceNumeric)
		listing.PricePeriod = "month"
	}
	listing.LivingArea = extractArea(pageText)
	listing.Rooms = extractRooms(pageText)

	if listing.SourceID == "" {
		return nil, &ParseError{Source: p.Source(), URL: pageURL, Reason: "missing listing id in URL"}
	}
	return listing, nil
}

// parariusSourceID extracts the hex listing id from a detail URL, e.g.
// /apartment-for-rent/amsterdam/a7e93cc2/dam. Falls back to the last numeric
// segment for legacy URL shapes.
func parariusSourceID(pageURL string) string {
	parts := strings.Split(strings.Trim(pageURL, "/"), "/")
	for i, part := range parts {
		if strings.Contains(part, "-for-rent") && i+2 < len(parts) {
			return parts[i+2]
		}
	}
	return lastNumericSegment(pageURL)
}
