package wikipedia

// SetAPIURLForTest overrides the MediaWiki API endpoint for package tests.
func SetAPIURLForTest(c *Collector, url string) {
	c.apiURL = url
}
