// Package httpsource is a reference Gateway adapter for a source reached
// over REST: one resource per record, addressed by foreign key ID. The
// client is hashicorp/go-retryablehttp, the teacher's own HTTP client
// (pkg/konnect), configured with the teacher's retry defaults.
package httpsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/gateway"
	"github.com/mirrorsync/reconciler/pkg/ident"
	"github.com/mirrorsync/reconciler/pkg/reconcilerrors"
	"github.com/mirrorsync/reconciler/pkg/rlog"
)

// ListFilter is encoded onto a collection GET request's query string via
// go-querystring, mirroring how the teacher's Konnect client builds list
// requests.
type ListFilter struct {
	PageSize int `url:"page_size,omitempty"`
}

// Adapter talks to a REST collection at BaseURL, one resource per record.
type Adapter struct {
	BaseURL string
	Client  *retryablehttp.Client
	Log     rlog.Logger
}

var _ gateway.Adapter = (*Adapter)(nil)

// New builds an HTTP-backed adapter against baseURL, with a retryable
// client configured to match the teacher's Konnect client: a handful of
// retries with exponential backoff, logging through Log.
func New(baseURL string, log rlog.Logger) *Adapter {
	if log == nil {
		log = rlog.Discard
	}
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = nil
	return &Adapter{BaseURL: baseURL, Client: c, Log: log}
}

func (a *Adapter) resourceURL(id string) string {
	return fmt.Sprintf("%s/%s", a.BaseURL, url.PathEscape(id))
}

// Initialise verifies the collection endpoint is reachable by issuing a
// filtered list request, exercising ListFilter/go-querystring encoding.
func (a *Adapter) Initialise(ctx context.Context) (any, error) {
	v, err := query.Values(ListFilter{PageSize: 1})
	if err != nil {
		return nil, reconcilerrors.Internal("httpsource: encoding filter: %v", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"?"+v.Encode(), nil)
	if err != nil {
		return nil, reconcilerrors.Internal("httpsource: building request: %v", err)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, reconcilerrors.WrapSourceErr("initialise", err)
	}
	defer resp.Body.Close()
	return nil, nil
}

// Finalise is a no-op; the retryable client owns no resources that need
// releasing beyond normal connection pooling.
func (a *Adapter) Finalise(context.Context, any) error {
	return nil
}

func (a *Adapter) do(req *retryablehttp.Request) (*http.Response, error) {
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, reconcilerrors.WrapSourceErr(req.Method, err)
	}
	return resp, nil
}

// Get fetches the resource at fk's ID and parses its JSON body.
func (a *Adapter) Get(ctx context.Context, _ any, fk ident.ForeignKey) (document.Document, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, a.resourceURL(fk.ID), nil)
	if err != nil {
		return nil, reconcilerrors.Internal("httpsource: building request: %v", err)
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, reconcilerrors.SourceErr("404", "httpsource: %s not found", fk.ID)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, reconcilerrors.WrapSourceErr("read-body", err)
	}
	if resp.StatusCode >= 300 {
		return nil, reconcilerrors.SourceErr(fmt.Sprintf("%d", resp.StatusCode), "httpsource: get %s: %s", fk.ID, raw)
	}
	return document.ParseJSON(raw)
}

// Set PUTs doc to fk's resource, or POSTs to the collection root to create
// one when fk is nil, returning the foreign key the source assigned.
func (a *Adapter) Set(ctx context.Context, _ any, doc document.Document, fk *ident.ForeignKey) (ident.ForeignKey, error) {
	raw, err := doc.MarshalJSONCanonical()
	if err != nil {
		return ident.ForeignKey{}, reconcilerrors.Internal("httpsource: encoding document: %v", err)
	}

	method, target := http.MethodPut, ""
	if fk != nil {
		target = a.resourceURL(fk.ID)
	} else {
		method, target = http.MethodPost, a.BaseURL
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, bytes.NewReader(raw))
	if err != nil {
		return ident.ForeignKey{}, reconcilerrors.Internal("httpsource: building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.do(req)
	if err != nil {
		return ident.ForeignKey{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return ident.ForeignKey{}, reconcilerrors.SourceErr(fmt.Sprintf("%d", resp.StatusCode), "httpsource: set: %s", body)
	}

	if fk != nil {
		return *fk, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ident.ForeignKey{}, reconcilerrors.WrapSourceErr("read-body", err)
	}
	created, err := document.ParseJSON(body)
	if err != nil {
		return ident.ForeignKey{}, err
	}
	id, _ := created["id"].(string)
	if id == "" {
		return ident.ForeignKey{}, reconcilerrors.Internal("httpsource: create response missing id")
	}
	return ident.ForeignKey{ID: id}, nil
}

// Delete issues DELETE against fk's resource. A 404 is treated as success,
// since the engine must tolerate deleting an already-absent document.
func (a *Adapter) Delete(ctx context.Context, _ any, fk ident.ForeignKey) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, a.resourceURL(fk.ID), nil)
	if err != nil {
		return reconcilerrors.Internal("httpsource: building request: %v", err)
	}
	resp, err := a.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return reconcilerrors.SourceErr(fmt.Sprintf("%d", resp.StatusCode), "httpsource: delete: %s", body)
	}
	return nil
}
