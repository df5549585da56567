package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/config"
	"github.com/brettbedarf/wikifs/internal/retry"
	"github.com/brettbedarf/wikifs/internal/util"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	// mediaWikiMaxLimit is the allpages limit granted to regular users
	mediaWikiMaxLimit        = 500
	defaultMediaWikiTimeout  = 30 * time.Second
	defaultContinuationTTL   = 5 * time.Minute
	mediaWikiContentType     = "application/x-www-form-urlencoded"
	mediaWikiMissingTitleErr = "missingtitle"
)

// API error codes worth another attempt
var mediaWikiRetryCodes = map[string]bool{
	"ratelimited": true,
	"maxlag":      true,
	"readonly":    true,
}

// MediaWikiOptions configures the MediaWiki backend. Page titles are keys and
// page wikitext is the value.
type MediaWikiOptions struct {
	URL       string  `json:"url"`               // api.php endpoint
	PageLimit int     `json:"page_limit"`        // allpages batch size, at most 500
	Rate      float64 `json:"rate,omitempty"`    // API requests per second per provider; 0 is unlimited
	Burst     int     `json:"burst,omitempty"`   // Default 1
	Timeout   float64 `json:"timeout,omitempty"` // Per request timeout in seconds (Default 30)
	// ContinuationTTL is how long, in seconds, a listing continuation token is
	// remembered for the next page request (Default 300)
	ContinuationTTL float64 `json:"continuation_ttl,omitempty"`
}

// MediaWikiProvider shares the request rate limit among all sessions
type MediaWikiProvider struct {
	opts    MediaWikiOptions
	limiter *rate.Limiter
	retry   retry.Config
}

func newMediaWikiProvider(raw []byte) (wikifs.BackendProvider, error) {
	var opts MediaWikiOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, err
	}
	return NewMediaWikiProvider(opts)
}

func NewMediaWikiProvider(opts MediaWikiOptions) (*MediaWikiProvider, error) {
	if _, err := url.ParseRequestURI(opts.URL); err != nil {
		return nil, fmt.Errorf("mediawiki: invalid url %q: %w", opts.URL, err)
	}
	if opts.PageLimit > mediaWikiMaxLimit {
		opts.PageLimit = mediaWikiMaxLimit
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	return &MediaWikiProvider{
		opts:    opts,
		limiter: rate.NewLimiter(limit, max(1, opts.Burst)),
		retry:   retry.DefaultConfig(),
	}, nil
}

func (p *MediaWikiProvider) NewBackend() (wikifs.Backend, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	timeout := defaultMediaWikiTimeout
	if p.opts.Timeout > 0 {
		timeout = time.Duration(p.opts.Timeout * float64(time.Second))
	}
	ttl := defaultContinuationTTL
	if p.opts.ContinuationTTL > 0 {
		ttl = time.Duration(p.opts.ContinuationTTL * float64(time.Second))
	}

	conts := ttlcache.New(
		ttlcache.WithTTL[continuationKey, string](ttl),
		ttlcache.WithDisableTouchOnHit[continuationKey, string](),
	)
	go conts.Start()

	return &MediaWikiBackend{
		provider: p,
		client:   &http.Client{Jar: jar, Timeout: timeout},
		conts:    conts,
	}, nil
}

// MediaWikiBackend implements [wikifs.Backend] against the MediaWiki action
// API. Each backend is one logged in API session with its own cookies.
type MediaWikiBackend struct {
	provider *MediaWikiProvider
	client   *http.Client

	// allpages continuation tokens keyed by the offset they continue from
	conts *ttlcache.Cache[continuationKey, string]

	mu   sync.Mutex
	csrf string

	closeOnce sync.Once
}

var _ wikifs.Backend = (*MediaWikiBackend)(nil)

type continuationKey struct {
	start, end string
	offset     int
}

type mediaWikiAPIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *mediaWikiAPIError) Error() string {
	return fmt.Sprintf("mediawiki api error %s: %s", e.Code, e.Info)
}

// Open logs in with creds. Empty credentials keep an anonymous session.
func (b *MediaWikiBackend) Open(ctx context.Context, creds wikifs.Credentials) error {
	logger := util.GetLogger("MediaWiki.Open")
	if creds.Username == "" {
		logger.Debug().Msg("No credentials; using anonymous session")
		return nil
	}

	var tokens struct {
		Query struct {
			Tokens struct {
				LoginToken string `json:"logintoken"`
			} `json:"tokens"`
		} `json:"query"`
	}
	q := url.Values{"action": {"query"}, "meta": {"tokens"}, "type": {"login"}}
	if err := b.call(ctx, http.MethodGet, q, &tokens); err != nil {
		return b.wrap("open", "", err)
	}

	var login struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"login"`
	}
	form := url.Values{
		"action":     {"login"},
		"lgname":     {creds.Username},
		"lgpassword": {creds.Password},
		"lgtoken":    {tokens.Query.Tokens.LoginToken},
	}
	if err := b.call(ctx, http.MethodPost, form, &login); err != nil {
		return b.wrap("open", "", err)
	}
	if login.Login.Result != "Success" {
		logger.Debug().Str("user", creds.Username).Str("result", login.Login.Result).Msg("Login rejected")
		return &wikifs.AuthError{User: creds.Username, Reason: login.Login.Reason}
	}
	logger.Debug().Str("user", creds.Username).Msg("Logged in")
	return nil
}

// Close drops the session cookies and cached tokens
func (b *MediaWikiBackend) Close() error {
	b.closeOnce.Do(b.conts.Stop)
	b.conts.DeleteAll()
	b.client.CloseIdleConnections()
	b.mu.Lock()
	b.csrf = ""
	b.mu.Unlock()
	if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
		b.client.Jar = jar
	}
	return nil
}

// Keys lists page titles with allpages. Offsets map onto continuation tokens
// remembered from earlier pages; an offset without a remembered token is
// reached by walking the listing from the start.
func (b *MediaWikiBackend) Keys(ctx context.Context, r wikifs.KeyRange) (wikifs.KeyPage, error) {
	limit := b.provider.opts.PageLimit

	if limit <= 0 {
		keys := []string{}
		cont := ""
		for {
			page, next, err := b.allPages(ctx, r, cont, mediaWikiMaxLimit)
			if err != nil {
				return wikifs.KeyPage{}, b.wrap("keys", r.Start, err)
			}
			keys = append(keys, page...)
			if next == "" {
				return wikifs.KeyPage{Keys: keys[min(r.Offset, len(keys)):], Limit: 0}, nil
			}
			cont = next
		}
	}

	cont, err := b.continuation(ctx, r, limit)
	if err != nil {
		return wikifs.KeyPage{}, b.wrap("keys", r.Start, err)
	}
	if cont == nil {
		return wikifs.KeyPage{Keys: []string{}, Limit: limit}, nil
	}

	keys, next, err := b.allPages(ctx, r, *cont, limit)
	if err != nil {
		return wikifs.KeyPage{}, b.wrap("keys", r.Start, err)
	}
	if next != "" {
		b.conts.Set(continuationKey{r.Start, r.End, r.Offset + limit}, next, ttlcache.DefaultTTL)
	}
	return wikifs.KeyPage{Keys: keys, Limit: limit}, nil
}

// continuation returns the apcontinue value for r.Offset or nil when the
// listing ends before it
func (b *MediaWikiBackend) continuation(ctx context.Context, r wikifs.KeyRange, limit int) (*string, error) {
	if r.Offset == 0 {
		return util.Pointer(""), nil
	}
	if item := b.conts.Get(continuationKey{r.Start, r.End, r.Offset}); item != nil {
		return util.Pointer(item.Value()), nil
	}

	logger := util.GetLogger("MediaWiki.Keys")
	logger.Debug().Str("start", r.Start).Int("offset", r.Offset).Msg("Continuation expired; walking listing")
	cont := ""
	for off := 0; off < r.Offset; {
		keys, next, err := b.allPages(ctx, r, cont, limit)
		if err != nil {
			return nil, err
		}
		if next == "" {
			return nil, nil
		}
		off += len(keys)
		cont = next
		b.conts.Set(continuationKey{r.Start, r.End, off}, next, ttlcache.DefaultTTL)
	}
	return &cont, nil
}

// allPages fetches one allpages batch and the token continuing it
func (b *MediaWikiBackend) allPages(ctx context.Context, r wikifs.KeyRange, cont string, limit int) ([]string, string, error) {
	q := url.Values{
		"action":  {"query"},
		"list":    {"allpages"},
		"aplimit": {strconv.Itoa(limit)},
	}
	if strings.TrimSuffix(r.End, wikifs.Sentinel) == r.Start {
		q.Set("apprefix", r.Start)
	} else {
		q.Set("apfrom", r.Start)
	}
	if cont != "" {
		q.Set("apcontinue", cont)
	}

	var res struct {
		Continue struct {
			APContinue string `json:"apcontinue"`
		} `json:"continue"`
		Query struct {
			AllPages []struct {
				Title string `json:"title"`
			} `json:"allpages"`
		} `json:"query"`
	}
	if err := b.call(ctx, http.MethodGet, q, &res); err != nil {
		return nil, "", err
	}

	keys := make([]string, 0, len(res.Query.AllPages))
	for _, p := range res.Query.AllPages {
		if r.Contains(p.Title) {
			keys = append(keys, p.Title)
		}
	}
	return keys, res.Continue.APContinue, nil
}

func (b *MediaWikiBackend) Get(ctx context.Context, key string) (*wikifs.Entry, error) {
	q := url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"rvslots": {"*"},
		"rvprop":  {"content|timestamp"},
		"titles":  {key},
	}
	var res struct {
		Query struct {
			Pages []struct {
				Title     string `json:"title"`
				Missing   bool   `json:"missing"`
				Invalid   bool   `json:"invalid"`
				Revisions []struct {
					Timestamp time.Time `json:"timestamp"`
					Slots     struct {
						Main struct {
							Content string `json:"content"`
						} `json:"main"`
					} `json:"slots"`
				} `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := b.call(ctx, http.MethodGet, q, &res); err != nil {
		return nil, b.wrap("get", key, err)
	}

	if len(res.Query.Pages) == 0 {
		return nil, nil
	}
	page := res.Query.Pages[0]
	if page.Missing || page.Invalid || len(page.Revisions) == 0 {
		return nil, nil
	}
	rev := page.Revisions[0]
	return &wikifs.Entry{
		Value:    []byte(rev.Slots.Main.Content),
		Modified: rev.Timestamp,
	}, nil
}

// Set edits the page titled key, or deletes it when value is nil
func (b *MediaWikiBackend) Set(ctx context.Context, key string, value []byte) error {
	token, err := b.csrfToken(ctx)
	if err != nil {
		return b.wrap("set", key, err)
	}

	form := url.Values{"title": {key}, "token": {token}}
	if value == nil {
		form.Set("action", "delete")
	} else {
		form.Set("action", "edit")
		form.Set("text", string(value))
	}

	var res json.RawMessage
	err = b.call(ctx, http.MethodPost, form, &res)
	var apiErr *mediaWikiAPIError
	if errors.As(err, &apiErr) {
		switch {
		case value == nil && apiErr.Code == mediaWikiMissingTitleErr:
			return nil
		case apiErr.Code == "badtoken":
			b.mu.Lock()
			b.csrf = ""
			b.mu.Unlock()
		}
	}
	if err != nil {
		return b.wrap("set", key, err)
	}
	b.conts.DeleteAll()
	return nil
}

func (b *MediaWikiBackend) csrfToken(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.csrf != "" {
		return b.csrf, nil
	}

	var res struct {
		Query struct {
			Tokens struct {
				CSRFToken string `json:"csrftoken"`
			} `json:"tokens"`
		} `json:"query"`
	}
	q := url.Values{"action": {"query"}, "meta": {"tokens"}}
	if err := b.call(ctx, http.MethodGet, q, &res); err != nil {
		return "", err
	}
	b.csrf = res.Query.Tokens.CSRFToken
	return b.csrf, nil
}

// call performs one API request with rate limiting and retries and decodes
// the JSON response into out. API level errors are returned as
// [*mediaWikiAPIError].
func (b *MediaWikiBackend) call(ctx context.Context, method string, params url.Values, out any) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")

	return retry.Do(ctx, b.provider.retry, func() error {
		if err := b.provider.limiter.Wait(ctx); err != nil {
			return err
		}

		var (
			req *http.Request
			err error
		)
		if method == http.MethodGet {
			req, err = http.NewRequestWithContext(ctx, method, b.provider.opts.URL+"?"+params.Encode(), nil)
		} else {
			req, err = http.NewRequestWithContext(ctx, method, b.provider.opts.URL, strings.NewReader(params.Encode()))
			if req != nil {
				req.Header.Set("Content-Type", mediaWikiContentType)
			}
		}
		if err != nil {
			return err
		}

		resp, err := b.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Retryable(err)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.Retryable(fmt.Errorf("%s %s: status %d", method, params.Get("action"), resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s %s: status %d", method, params.Get("action"), resp.StatusCode)
		}

		var envelope struct {
			Error *mediaWikiAPIError `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if envelope.Error != nil {
			if mediaWikiRetryCodes[envelope.Error.Code] {
				return retry.Retryable(envelope.Error)
			}
			return envelope.Error
		}
		return json.Unmarshal(body, out)
	})
}

func (b *MediaWikiBackend) wrap(op, key string, err error) error {
	var authErr *wikifs.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return &wikifs.BackendError{Backend: config.MediaWikiBackend, Op: op, Key: key, Err: err}
}
