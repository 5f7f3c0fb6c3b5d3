package cache

import "fmt"

const postKeyFormat = "post:%s"

// PostKey is the cache key of a single post.
func PostKey(id string) string {
	return fmt.Sprintf(postKeyFormat, id)
}
