package scrape

import (
	"testing"

	"github.com/listing-scanner/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	Register(Funda{})
	Register(Pararius{})

	t.Run("resolves registered sources", func(t *testing.T) {
		s, err := Get("funda")
		require.NoError(t, err)
		assert.Equal(t, "funda", s.Source())

		s, err = Get("pararius")
		require.NoError(t, err)
		assert.Equal(t, "pararius", s.Source())
	})

	t.Run("rejects unknown source", func(t *testing.T) {
		_, err := Get("zillow")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not registered")
	})

	t.Run("lists sources", func(t *testing.T) {
		assert.Contains(t, Sources(), "funda")
		assert.Contains(t, Sources(), "pararius")
	})
}

func TestFundaBuildSearchURL(t *testing.T) {
	target := models.ScanTarget{Source: "funda", Kind: models.TargetCity, City: "amsterdam"}

	u, err := Funda{}.BuildSearchURL(target, 1)
	require.NoError(t, err)
	assert.Contains(t, u, "https://www.funda.nl/en/zoeken/huur/")
	assert.Contains(t, u, "amsterdam")

	t.Run("query URL target passes through", func(t *testing.T) {
		target := models.ScanTarget{
			Source:   "funda",
			Kind:     models.TargetQueryURL,
			QueryURL: "https://www.funda.nl/en/zoeken/huur/?saved=1",
		}
		u, err := Funda{}.BuildSearchURL(target, 1)
		require.NoError(t, err)
		assert.Equal(t, target.QueryURL, u)
	})

	t.Run("city is required", func(t *testing.T) {
		_, err := Funda{}.BuildSearchURL(models.ScanTarget{Source: "funda", Kind: models.TargetCity}, 1)
		assert.Error(t, err)
	})
}

const fundaSearchHTML = `<html><body>
<div class="search-results">
  <a href="/detail/huur/amsterdam/appartement-keizersgracht-100/43001001/">Keizersgracht 100</a>
  <a href="/detail/huur/amsterdam/huis-dam-1/43001002/">Dam 1</a>
  <a href="/detail/huur/amsterdam/huis-dam-1/43001002/">Dam 1 (photo)</a>
  <a href="/over-funda/contact">Contact</a>
</div>
</body></html>`

func TestFundaParseSearchPage(t *testing.T) {
	urls, err := Funda{}.ParseSearchPage([]byte(fundaSearchHTML))
	require.NoError(t, err)

	// Duplicate anchors collapse, navigation links are ignored.
	require.Len(t, urls, 2)
	assert.Equal(t, "https://www.funda.nl/detail/huur/amsterdam/appartement-keizersgracht-100/43001001/", urls[0])
	assert.Equal(t, "https://www.funda.nl/detail/huur/amsterdam/huis-dam-1/43001002/", urls[1])
}

const fundaListingHTML = `<html><body>
<h1>Keizersgracht 100</h1>
<span class="object-header__subtitle">1015 CX Amsterdam</span>
<div class="object-header__price">€ 1.850 per month</div>
<dl><dt>Living area</dt><dd>72 m²</dd><dt>Number of rooms</dt><dd>3 rooms</dd></dl>
</body></html>`

func TestFundaParseListingPage(t *testing.T) {
	pageURL := "https://www.funda.nl/detail/huur/amsterdam/appartement-keizersgracht-100/43001001/"

	listing, err := Funda{}.ParseListingPage([]byte(fundaListingHTML), pageURL)
	require.NoError(t, err)

	assert.Equal(t, "funda", listing.Source)
	assert.Equal(t, "43001001", listing.SourceID)
	assert.Equal(t, "Keizersgracht 100", listing.Title)
	assert.Equal(t, "1015 CX", listing.PostalCode)
	assert.Equal(t, "amsterdam", listing.City)
	assert.Equal(t, 1850, listing.PriceNumeric)
	assert.Equal(t, 72, listing.LivingArea)
	assert.Equal(t, 3, listing.Rooms)

	t.Run("page without heading is a parse error", func(t *testing.T) {
		_, err := Funda{}.ParseListingPage([]byte("<html><body><p>blocked</p></body></html>"), pageURL)
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, "funda", parseErr.Source)
	})
}

const parariusSearchHTML = `<html><body>
<ul>
  <li><a href="/apartment-for-rent/amsterdam/a7e93cc2/dam">Apartment Dam 1</a></li>
  <li><a href="/house-for-rent/amsterdam/b81f0d11/keizersgracht">House Keizersgracht 100</a></li>
  <li><a href="/apartments/amsterdam/page-2">Next page</a></li>
</ul>
</body></html>`

func TestParariusParseSearchPage(t *testing.T) {
	urls, err := Pararius{}.ParseSearchPage([]byte(parariusSearchHTML))
	require.NoError(t, err)

	require.Len(t, urls, 2)
	assert.Equal(t, "https://www.pararius.com/apartment-for-rent/amsterdam/a7e93cc2/dam", urls[0])
	assert.Equal(t, "https://www.pararius.com/house-for-rent/amsterdam/b81f0d11/keizersgracht", urls[1])
}

const parariusListingHTML = `<html><body>
<h1>Apartment Dam 1</h1>
<div class="listing-detail-summary__location">1012 JS Amsterdam</div>
<span class="listing-detail-summary__price">€1,520 per month</span>
<ul><li>61 m² living area</li><li>2 rooms</li></ul>
</body></html>`

func TestParariusParseListingPage(t *testing.T) {
	pageURL := "https://www.pararius.com/apartment-for-rent/amsterdam/a7e93cc2/dam"

	listing, err := Pararius{}.ParseListingPage([]byte(parariusListingHTML), pageURL)
	require.NoError(t, err)

	assert.Equal(t, "pararius", listing.Source)
	assert.Equal(t, "a7e93cc2", listing.SourceID)
	assert.Equal(t, "Dam 1", listing.Address)
	assert.Equal(t, "amsterdam", listing.City)
	assert.Equal(t, 1520, listing.PriceNumeric)
	assert.Equal(t, 61, listing.LivingArea)
	assert.Equal(t, 2, listing.Rooms)
}

func TestExtractHelpers(t *testing.T) {
	assert.Equal(t, 1850, extractPrice("€ 1.850 per month"))
	assert.Equal(t, 1520, extractPrice("€1,520"))
	assert.Equal(t, 0, extractPrice("price on request"))
	assert.Equal(t, 72, extractArea("72 m² living area"))
	assert.Equal(t, 3, extractRooms("3 rooms"))
	assert.Equal(t, 3, extractRooms("3 kamers"))
	assert.Equal(t, "43001001", lastNumericSegment("/huur/amsterdam/huis-1/43001001/"))
}
