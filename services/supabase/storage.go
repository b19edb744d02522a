package supabase

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/presence/core/account"
)

// Storage is the Supabase Storage backed account.ObjectStorage.
type Storage struct {
	client *Client
}

var _ account.ObjectStorage = (*Storage)(nil)

func NewStorage(client *Client) *Storage {
	return &Storage{client: client}
}

func objectPath(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}

func (s *Storage) Upload(ctx context.Context, sess *account.Session, bucket, key string, data []byte, contentType string) error {
	var token string
	if sess != nil {
		token = sess.AccessToken
	}
	_, err := s.client.send(ctx, request{
		method: rest.Post,
		path:   "/storage/v1/object/" + objectPath(bucket, key),
		token:  token,
		headers: map[string]string{
			"Content-Type":  contentType,
			"Cache-Control": "max-age=3600",
			"x-upsert":      "true",
		},
		body: data,
	})
	return errors.Wrapf(err, "uploading %s/%s", bucket, key)
}

// PublicURL is only meaningful for public buckets.
func (s *Storage) PublicURL(bucket, key string) (string, bool) {
	if bucket == "" || key == "" {
		return "", false
	}
	return s.client.baseURL + "/storage/v1/object/public/" + objectPath(bucket, key), true
}
