package collector

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"
)

// Link is one a[href] of the final document.
type Link struct {
	Href       string `json:"href" yaml:"href"`
	Text       string `json:"text,omitempty" yaml:"text,omitempty"`
	FirstParty bool   `json:"firstParty" yaml:"firstParty"`
}

// ExtractLinks returns the http(s) links of html, resolved against base,
// without fragments, de-duplicated and sorted by href.
func ExtractLinks(html, base string) ([]Link, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", err
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, "", err
	}
	site := registrableDomain(baseURL.Hostname())

	byHref := make(map[string]Link)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := baseURL.Parse(strings.TrimSpace(href))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		u.Fragment = ""
		u.RawFragment = ""
		abs := u.String()
		if _, ok := byHref[abs]; ok {
			return
		}
		byHref[abs] = Link{
			Href:       abs,
			Text:       strings.Join(strings.Fields(s.Text()), " "),
			FirstParty: site != "" && registrableDomain(u.Hostname()) == site,
		}
	})

	links := make([]Link, 0, len(byHref))
	for _, l := range byHref {
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Href < links[j].Href })

	title := strings.TrimSpace(doc.Find("title").First().Text())
	return links, title, nil
}

// registrableDomain returns host's eTLD+1, or host itself when it has none
// (IP addresses, localhost).
func registrableDomain(host string) string {
	host = strings.ToLower(host)
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
