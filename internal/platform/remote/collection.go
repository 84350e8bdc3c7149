package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// UpdateStyle selects how a collection addresses updates.
type UpdateStyle int

const (
	// UpdateByBody sends PUT /{resource} with the id in the body.
	UpdateByBody UpdateStyle = iota
	// UpdateByPath sends PUT /{resource}/{id}.
	UpdateByPath
)

// ListQuery is one list request. Search is the free-text filter; it is sent
// under the collection's search parameter ("name" unless configured).
type ListQuery struct {
	Page    int
	Size    int
	Sort    string
	Search  string
	Filters map[string]string
}

// Values renders the query string.
func (q ListQuery) Values(searchParam string) url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	if q.Size > 0 {
		v.Set("size", strconv.Itoa(q.Size))
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	for k, val := range q.Filters {
		if strings.TrimSpace(val) != "" {
			v.Set(k, val)
		}
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		v.Set(searchParam, s)
	}
	return v
}

// Collection is the remote side of one entity kind. D is the wire DTO.
type Collection[D any] struct {
	client      *Client
	resource    string
	update      UpdateStyle
	searchParam string
}

type CollectionOption func(*collectionConfig)

type collectionConfig struct {
	update      UpdateStyle
	searchParam string
}

func WithUpdateStyle(s UpdateStyle) CollectionOption {
	return func(c *collectionConfig) { c.update = s }
}

// WithSearchParam names the query parameter carrying the free-text search.
func WithSearchParam(name string) CollectionOption {
	return func(c *collectionConfig) { c.searchParam = name }
}

// NewCollection binds resource (e.g. "cohorts" or "cohorts/with-members")
// to the client.
func NewCollection[D any](c *Client, resource string, opts ...CollectionOption) *Collection[D] {
	cfg := collectionConfig{searchParam: "name"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Collection[D]{
		client:      c,
		resource:    "/" + strings.Trim(resource, "/"),
		update:      cfg.update,
		searchParam: cfg.searchParam,
	}
}

// Resource returns the collection path without the leading slash.
func (c *Collection[D]) Resource() string { return strings.TrimPrefix(c.resource, "/") }

// List fetches one page. A negative size is rejected before any request;
// zero lets the backend pick its default.
func (c *Collection[D]) List(ctx context.Context, q ListQuery) (*PageResult[D], error) {
	if q.Size < 0 {
		return nil, fmt.Errorf("list %s: %w", c.resource, ErrInvalidPageSize)
	}
	body, err := c.client.send(ctx, http.MethodGet, c.resource, q.Values(c.searchParam), nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeEnvelope[D](c.client.envelope, body)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.resource, err)
	}
	if res.Size == 0 {
		res.Size = q.Size
	}
	return res, nil
}

func (c *Collection[D]) Get(ctx context.Context, id int64) (D, error) {
	var out D
	body, err := c.client.send(ctx, http.MethodGet, c.itemPath(strconv.FormatInt(id, 10)), nil, nil)
	if err != nil {
		return out, err
	}
	if err := decodeData(body, &out); err != nil {
		return out, fmt.Errorf("get %s/%d: decode: %w", c.resource, id, err)
	}
	return out, nil
}

func (c *Collection[D]) Create(ctx context.Context, dto D) (D, error) {
	var out D
	body, err := c.client.send(ctx, http.MethodPost, c.resource, nil, dto)
	if err != nil {
		return out, err
	}
	if err := decodeData(body, &out); err != nil {
		return out, fmt.Errorf("create %s: decode: %w", c.resource, err)
	}
	return out, nil
}

// Update replaces an existing record. id is only used in the path when the
// collection uses UpdateByPath; the dto must carry it either way.
func (c *Collection[D]) Update(ctx context.Context, id int64, dto D) (D, error) {
	var out D
	path := c.resource
	if c.update == UpdateByPath {
		path = c.itemPath(strconv.FormatInt(id, 10))
	}
	body, err := c.client.send(ctx, http.MethodPut, path, nil, dto)
	if err != nil {
		return out, err
	}
	if err := decodeData(body, &out); err != nil {
		return out, fmt.Errorf("update %s: decode: %w", c.resource, err)
	}
	return out, nil
}

func (c *Collection[D]) Delete(ctx context.Context, uuid string) error {
	_, err := c.client.send(ctx, http.MethodDelete, c.itemPath(uuid), nil, nil)
	return err
}

// UpdateStatus changes only the lifecycle status of the record.
func (c *Collection[D]) UpdateStatus(ctx context.Context, uuid, status string) (D, error) {
	var out D
	payload := map[string]string{"lifeCycleStatus": status}
	body, err := c.client.send(ctx, http.MethodPut, c.itemPath(uuid)+"/status", nil, payload)
	if err != nil {
		return out, err
	}
	if err := decodeData(body, &out); err != nil {
		return out, fmt.Errorf("update status %s/%s: decode: %w", c.resource, uuid, err)
	}
	return out, nil
}

func (c *Collection[D]) itemPath(key string) string {
	return c.resource + "/" + key
}
