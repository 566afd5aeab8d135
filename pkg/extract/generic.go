package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/thread-watcher/pkg/markup"
	"github.com/Sriram-PR/thread-watcher/pkg/models"
	"github.com/Sriram-PR/thread-watcher/pkg/parse"
	"github.com/Sriram-PR/thread-watcher/pkg/utils"
)

// GenericName is the registry name of the generic extractor.
const GenericName = "generic"

var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".bmp": true, ".avif": true, ".svg": true, ".tif": true, ".tiff": true,
	".webm": true, ".mp4": true,
}

// Generic finds images on any page: links to media files that wrap an <img>
// become an image plus its thumbnail, and remaining <img> tags become images.
type Generic struct{}

// NewGeneric returns the generic extractor.
func NewGeneric() *Generic { return &Generic{} }

// Extract implements Extractor.
func (g *Generic) Extract(ctx context.Context, text string, pageURL *url.URL) (*Result, error) {
	doc := markup.Parse(text)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gq, err := goquery.NewDocumentFromReader(strings.NewReader(doc.Text))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing page '%s': %w", utils.ErrParsing, pageURL, err)
	}

	res := &Result{Title: strings.TrimSpace(gq.Find("title").First().Text())}
	if href, ok := gq.Find(`link[rel~="next"], a[rel~="next"]`).First().Attr("href"); ok {
		if next, err := parse.ResolveURL(pageURL, href); err == nil && parse.NormalizeURL(next) != parse.NormalizeURL(pageURL) {
			res.NextPage = next
		}
	}

	c := &collector{res: res, seen: make(map[string]bool)}
	claimed := make(map[int]bool)

	for i, tag := range doc.Tags {
		if tag.End || tag.Name != "a" {
			continue
		}
		hrefAttr := tag.Attribute("href")
		if hrefAttr == nil {
			continue
		}
		target, err := parse.ResolveURL(pageURL, hrefAttr.Value)
		if err != nil {
			continue
		}

		if res.NextPage != nil && isRelNext(tag) && parse.NormalizeURL(target) == parse.NormalizeURL(res.NextPage) {
			if sp, ok := markup.SpanForAttribute(hrefAttr, markup.SpanPage, parse.NormalizeURL(target)); ok {
				res.Spans = append(res.Spans, sp)
			}
			continue
		}
		if !isMedia(target) {
			continue
		}

		imageKey := c.add(target, models.ResourceKindImage, "", i, hrefAttr)

		end := doc.FindCorrespondingEndTag(tag)
		if end == nil {
			continue
		}
		img := doc.FindStartTag("img", tag, end)
		if img == nil {
			continue
		}
		claimed[doc.IndexOf(img)] = true
		if sum := advertisedMD5(img); sum != nil {
			c.setMD5(imageKey, sum)
		}
		srcAttr := img.Attribute("src")
		if srcAttr == nil {
			continue
		}
		thumb, err := parse.ResolveURL(pageURL, srcAttr.Value)
		if err != nil || parse.NormalizeURL(thumb) == imageKey {
			continue
		}
		c.add(thumb, models.ResourceKindThumbnail, imageKey, doc.IndexOf(img), srcAttr)
	}

	for i, tag := range doc.Tags {
		if tag.End || tag.Name != "img" || claimed[i] {
			continue
		}
		srcAttr := tag.Attribute("src")
		if srcAttr == nil {
			continue
		}
		target, err := parse.ResolveURL(pageURL, srcAttr.Value)
		if err != nil {
			continue
		}
		key := c.add(target, models.ResourceKindImage, "", i, srcAttr)
		if sum := advertisedMD5(tag); sum != nil {
			c.setMD5(key, sum)
		}
	}

	return res, nil
}

type collector struct {
	res  *Result
	seen map[string]bool
}

// add records a resource once per key and a span for every occurrence.
func (c *collector) add(u *url.URL, kind models.ResourceKind, parent string, tagIndex int, attr *markup.Attribute) string {
	key := parse.NormalizeURL(u)
	if sp, ok := markup.SpanForAttribute(attr, markup.SpanResource, key); ok {
		c.res.Spans = append(c.res.Spans, sp)
	}
	if c.seen[key] {
		return key
	}
	c.seen[key] = true
	c.res.Resources = append(c.res.Resources, Resource{
		URL:       u,
		Key:       key,
		Kind:      kind,
		Name:      SuggestName(u),
		Parent:    parent,
		SourceTag: tagIndex,
	})
	return key
}

func (c *collector) setMD5(key string, sum []byte) {
	for i := range c.res.Resources {
		if c.res.Resources[i].Key == key {
			c.res.Resources[i].MD5 = sum
			return
		}
	}
}

func isMedia(u *url.URL) bool {
	return mediaExtensions[strings.ToLower(path.Ext(u.Path))]
}

func isRelNext(t *markup.Tag) bool {
	rel, ok := t.Attr("rel")
	if !ok {
		return false
	}
	for _, v := range strings.Fields(strings.ToLower(rel)) {
		if v == "next" {
			return true
		}
	}
	return false
}

// advertisedMD5 reads a base64 data-md5 attribute, as image boards publish.
func advertisedMD5(t *markup.Tag) []byte {
	v, ok := t.Attr("data-md5")
	if !ok {
		return nil
	}
	sum, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v))
	if err != nil || len(sum) != 16 {
		return nil
	}
	return sum
}
