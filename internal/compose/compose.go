// Package compose turns a flush set of staged rows into post payloads.
package compose

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gfhdhytghd/oqqwall/internal/models"
)

// RangeSeparator joins the first and last tag of a multi-tag post.
const RangeSeparator = "～"

// Policy is the per-group composition policy.
type Policy struct {
	AtUnprivSender   bool
	MaxImagesPerPost int
}

// Item is one staged row together with its media set.
type Item struct {
	Row    models.StagingRow
	Images []string
}

// Payload is one post sent to the Sender Service. Images is never nil.
type Payload struct {
	Text   string
	Images []string
}

// Post is the composed result of one flush.
type Post struct {
	Tags     []int64
	Text     string
	Payloads []Payload
	// PrivSenders are senders of needpriv rows that get a private-message
	// fallback instead of a mention. A sender with both kinds of rows is
	// mentioned and also listed here. Only set when AtUnprivSender is on.
	PrivSenders []string
}

// Compose builds the post for items, which must be in tag order.
//
// Images of all items are concatenated in tag order and cut into contiguous
// chunks of at most MaxImagesPerPost; a chunk may span a tag boundary, and a
// tag whose own set exceeds the limit spills over consecutive chunks. Every
// chunk carries the same text.
func Compose(items []Item, p Policy) (Post, error) {
	if len(items) == 0 {
		return Post{}, fmt.Errorf("compose: empty flush set")
	}
	if p.MaxImagesPerPost < 1 {
		return Post{}, fmt.Errorf("compose: max images per post must be >= 1, got %d", p.MaxImagesPerPost)
	}

	post := Post{Tags: make([]int64, 0, len(items))}
	var images []string
	for _, it := range items {
		post.Tags = append(post.Tags, it.Row.Tag)
		for _, img := range it.Images {
			images = append(images, imageRef(img))
		}
	}

	var mentions []string
	if p.AtUnprivSender {
		mentioned := make(map[string]bool)
		notified := make(map[string]bool)
		for _, it := range items {
			sender := it.Row.SenderID
			if sender == "" {
				continue
			}
			if it.Row.NeedPriv() {
				if !notified[sender] {
					notified[sender] = true
					post.PrivSenders = append(post.PrivSenders, sender)
				}
				continue
			}
			if !mentioned[sender] {
				mentioned[sender] = true
				mentions = append(mentions, Mention(sender))
			}
		}
	}

	post.Text = Text(items, mentions)
	post.Payloads = Chunk(images, p.MaxImagesPerPost, post.Text)
	return post, nil
}

// Text renders the post text: "#<tag>" (plus comment) for a single row,
// "#<first>～<last>" for several. Per-row comments are dropped from
// multi-row posts. Mentions follow the tag header.
func Text(items []Item, mentions []string) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, 2+len(mentions))
	first := items[0].Row.Tag
	if len(items) == 1 {
		parts = append(parts, "#"+strconv.FormatInt(first, 10))
	} else {
		last := items[len(items)-1].Row.Tag
		parts = append(parts, "#"+strconv.FormatInt(first, 10)+RangeSeparator+strconv.FormatInt(last, 10))
	}
	parts = append(parts, mentions...)
	if len(items) == 1 {
		if c := strings.TrimSpace(items[0].Row.CommentText()); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

// Mention renders the Sender Service's @-mention token for a user.
func Mention(uin string) string {
	return "@{uin:" + uin + "}"
}

// Chunk splits images into contiguous slices of at most limit, each paired
// with text. No images yields a single payload with an empty image list.
func Chunk(images []string, limit int, text string) []Payload {
	if len(images) == 0 {
		return []Payload{{Text: text, Images: []string{}}}
	}
	var out []Payload
	for start := 0; start < len(images); start += limit {
		end := min(start+limit, len(images))
		chunk := make([]string, end-start)
		copy(chunk, images[start:end])
		out = append(out, Payload{Text: text, Images: chunk})
	}
	return out
}

func imageRef(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return "file://" + path
}
