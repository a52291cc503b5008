package domain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// ErrInvalidPaginationToken is returned for cursors that were not produced by
// a prior page.
var ErrInvalidPaginationToken = errors.New("invalid pagination token")

// PaginationToken is the decoded cursor: the (createdAt, id) pair of the last
// record returned. Listing continues strictly after this position in
// (createdAt DESC, id DESC) order.
type PaginationToken struct {
	CreatedAt int64  `json:"createdAt"`
	ID        string `json:"id"`
}

// Encode serializes the cursor into its opaque wire form.
func (t PaginationToken) Encode() string {
	raw, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodePaginationToken parses an opaque cursor.
func DecodePaginationToken(token string) (*PaginationToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidPaginationToken
	}
	var t PaginationToken
	if err := json.Unmarshal(raw, &t); err != nil || t.ID == "" {
		return nil, ErrInvalidPaginationToken
	}
	return &t, nil
}

// Before reports whether a record at (createdAt, id) sorts strictly after the
// cursor position, i.e. belongs to a later page. The comparator must match the
// ordering used to build pages: createdAt DESC, then id DESC.
func (t PaginationToken) Before(createdAt int64, id string) bool {
	if createdAt != t.CreatedAt {
		return createdAt < t.CreatedAt
	}
	return id < t.ID
}

// LessRecent orders two records under the pagination contract; it returns true
// when record a sorts after record b (a is the older position).
func LessRecent(aCreatedAt int64, aID string, bCreatedAt int64, bID string) bool {
	if aCreatedAt != bCreatedAt {
		return aCreatedAt < bCreatedAt
	}
	return aID < bID
}
