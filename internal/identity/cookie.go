package identity

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieName is the browser cookie that carries the visit flags.
const CookieName = "prempushp_visits"

const (
	minHashKeyLength = 32
	cookieMaxAge     = 10 * 365 * 24 * time.Hour
	maxFlushTrims    = 8
)

var (
	// ErrInvalidHashKey indicates that the cookie signing key is too short.
	ErrInvalidHashKey = errors.New("identity: hash key must be at least 32 bytes")
	// ErrInvalidBlockKey indicates that the cookie encryption key is not an AES key size.
	ErrInvalidBlockKey = errors.New("identity: block key must be 16, 24, or 32 bytes")
)

// CookieCodec signs, and optionally encrypts, the visit flag cookie.
type CookieCodec struct {
	codec  *securecookie.SecureCookie
	secure bool
}

// NewCookieCodec builds a codec. blockKey may be empty to sign without encrypting.
func NewCookieCodec(hashKey, blockKey []byte, secure bool) (*CookieCodec, error) {
	if len(hashKey) < minHashKeyLength {
		return nil, ErrInvalidHashKey
	}
	switch len(blockKey) {
	case 0:
		blockKey = nil
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBlockKey, len(blockKey))
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cookieMaxAge / time.Second))
	return &CookieCodec{codec: codec, secure: secure}, nil
}

// FromRequest returns the flag set stored in the request cookie. A missing,
// tampered, or expired cookie yields an empty set. A nil codec yields an
// unavailable store.
func (c *CookieCodec) FromRequest(request *http.Request) *CookieFlags {
	flags := &CookieFlags{codec: c, index: make(map[string]struct{})}
	if c == nil || c.codec == nil || request == nil {
		return flags
	}
	cookie, err := request.Cookie(CookieName)
	if err != nil {
		return flags
	}
	var keys []string
	if err := c.codec.Decode(CookieName, cookie.Value, &keys); err != nil {
		return flags
	}
	for _, key := range keys {
		if _, seen := flags.index[key]; seen || key == "" {
			continue
		}
		flags.index[key] = struct{}{}
		flags.keys = append(flags.keys, key)
	}
	return flags
}

// CookieFlags is a per-request FlagStore backed by the visit cookie. Keys
// keep their insertion order so the oldest can be dropped when the cookie
// outgrows the browser limit.
type CookieFlags struct {
	codec *CookieCodec
	mu    sync.Mutex
	keys  []string
	index map[string]struct{}
	dirty bool
}

func (flags *CookieFlags) Available() bool {
	return flags != nil && flags.codec != nil && flags.codec.codec != nil
}

func (flags *CookieFlags) Has(key string) bool {
	if !flags.Available() {
		return false
	}
	flags.mu.Lock()
	defer flags.mu.Unlock()
	_, ok := flags.index[key]
	return ok
}

func (flags *CookieFlags) Set(key string) {
	if !flags.Available() {
		return
	}
	flags.mu.Lock()
	defer flags.mu.Unlock()
	if _, ok := flags.index[key]; ok {
		return
	}
	flags.index[key] = struct{}{}
	flags.keys = append(flags.keys, key)
	flags.dirty = true
}

// Flush writes the cookie back when a flag was set during the request. When
// the encoded value is too long the oldest page and product flags are dropped;
// the site flag is always kept.
func (flags *CookieFlags) Flush(writer http.ResponseWriter) error {
	if !flags.Available() {
		return nil
	}
	flags.mu.Lock()
	defer flags.mu.Unlock()
	if !flags.dirty {
		return nil
	}

	var (
		encoded string
		err     error
	)
	for trim := 0; trim <= maxFlushTrims; trim++ {
		encoded, err = flags.codec.codec.Encode(CookieName, flags.keys)
		if err == nil {
			break
		}
		if !flags.dropOldest() {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("encode visit cookie: %w", err)
	}

	http.SetCookie(writer, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(cookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   flags.codec.secure,
		SameSite: http.SameSiteLaxMode,
	})
	flags.dirty = false
	return nil
}

// dropOldest removes the older half of the non-site flags.
func (flags *CookieFlags) dropOldest() bool {
	droppable := 0
	for _, key := range flags.keys {
		if key != keySiteVisited {
			droppable++
		}
	}
	if droppable == 0 {
		return false
	}
	remaining := droppable / 2
	dropped := 0
	flags.keys = slices.DeleteFunc(flags.keys, func(key string) bool {
		if key == keySiteVisited || dropped >= droppable-remaining {
			return false
		}
		dropped++
		delete(flags.index, key)
		return true
	})
	return true
}
