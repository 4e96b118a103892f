package scrape

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/listing-scanner/internal/models"
)

const fundaBaseURL = "https://www.funda.nl"

var fundaDetailRe = regexp.MustCompile(`/(?:en/)?(?:detail/)?huur/[^/?#]+/(?:huis|appartement|studio|kamer)-[^/?#]*\d`)

// Funda scrapes funda.nl rental search results.
type Funda struct{}

func (Funda) Source() string { return "funda" }

// BuildSearchURL builds the funda rental search URL for a city, restricted to
// listings published within the last N days and sorted newest first.
func (Funda) BuildSearchURL(target models.ScanTarget, days int) (string, error) {
	if target.Kind == models.TargetQueryURL {
		return target.QueryURL, nil
	}
	if target.City == "" {
		return "", fmt.Errorf("funda: city is required")
	}
	q := url.Values{}
	q.Set("selected_area", fmt.Sprintf(`["%s"]`, target.City))
	q.Set("publication_date", fmt.Sprintf(`"%d"`, days))
	q.Set("sort", `"date_down"`)
	return fundaBaseURL + "/en/zoeken/huur/?" + q.Encode(), nil
}

// ParseSearchPage extracts listing detail URLs from a funda search results page.
func (f Funda) ParseSearchPage(body []byte) ([]string, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, &ParseError{Source: f.Source(), Reason: "invalid search page HTML", Cause: err}
	}

	hrefs := collectLinks(doc, func(href string) bool {
		return fundaDetailRe.MatchString(href)
	})

	urls := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		if strings.HasPrefix(href, "/") {
			href = fundaBaseURL + href
		}
		urls = append(urls, href)
	}
	return urls, nil
}

// ParseListingPage extracts listing fields from a funda detail page.
func (f Funda) ParseListingPage(body []byte, pageURL string) (*models.Listing, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, &ParseError{Source: f.Source(), URL: pageURL, Reason: "invalid listing page HTML", Cause: err}
	}

	heading := findFirst(doc, "h1", nil)
	if heading == nil {
		return nil, &ParseError{Source: f.Source(), URL: pageURL, Reason: "missing listing heading"}
	}

	listing := &models.Listing{
		Source:       f.Source(),
		SourceID:     lastNumericSegment(pageURL),
		URL:          pageURL,
		Title:        nodeText(heading),
		OfferingType: models.OfferingRental,
		DateScraped:  time.Now().UTC(),
	}

	// Funda renders the street address inside the h1; the postal code and
	// city live in an adjacent subtitle span.
	listing.Address = nodeText(heading)
	if sub := findFirst(doc, "span", func(n *htmlNode) bool {
		return hasClass(n, "object-header__subtitle")
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
		listing.Price = fmt.Sprintf("€ %d per month", listing.PriceNumeric)
		listing.PricePeriod = "month"
	}
	listing.LivingArea = extractArea(pageText)
	listing.Rooms = extractRooms(pageText)

	if listing.SourceID == "" {
		return nil, &ParseError{Source: f.Source(), URL: pageURL, Reason: "missing listing id in URL"}
	}
	return listing, nil
}
