package server

import (
	"fmt"
	"html"

	"github.com/gorilla/feeds"

	"rexml/models"
)

const redditURL = "https://www.reddit.com"

// AtomFeed renders the crossed items of a feed, newest crossing first. The
// feed is updated at its newest crossing.
func AtomFeed(hostname string, feed models.Feed, items []models.Item) (string, error) {
	self := fmt.Sprintf("https://%s/%s", hostname, feed.Name)

	atom := &feeds.Feed{
		Id:    self,
		Title: feed.Name + " posts",
		Link:  &feeds.Link{Href: self, Rel: "self"},
		Description: fmt.Sprintf("Posts in r/%s with at least %d upvotes within %s of posting",
			feed.Name, feed.UpvoteThreshold, feed.TimeCutoff()),
		Created: feed.CreatedAt,
	}

	for _, item := range items {
		updated := item.CreatedAt
		if item.CrossedAt != nil {
			updated = *item.CrossedAt
		}
		if updated.After(atom.Updated) {
			atom.Updated = updated
		}

		atom.Items = append(atom.Items, &feeds.Item{
			Id:          item.Url,
			Title:       item.Title,
			Link:        &feeds.Link{Href: item.Url},
			Description: comments(item),
			Created:     item.CreatedAt,
			Updated:     updated,
		})
	}

	return atom.ToAtom()
}

func comments(item models.Item) string {
	return fmt.Sprintf(`<a href="%s">%d upvotes, comments</a>`,
		html.EscapeString(redditURL+item.Permalink), item.Popularity)
}
