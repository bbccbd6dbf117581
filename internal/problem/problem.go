// Package problem funnels every failure into an RFC 7807 problem
// document with consistent content-type negotiation.
package problem

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	apperrors "github.com/vesselkit/vessel/internal/errors"
	"github.com/vesselkit/vessel/internal/logging"
)

// Document is the RFC 7807 problem shape. Response carries structured
// context such as a schema-violation path or the allowed methods.
type Document struct {
	Type     string `json:"type" xml:"type"`
	Title    string `json:"title" xml:"title"`
	Detail   string `json:"detail" xml:"detail"`
	Status   int    `json:"status" xml:"status"`
	Instance string `json:"instance,omitempty" xml:"instance,omitempty"`
	Response any    `json:"response,omitempty" xml:"-"`
}

const (
	// MimeJSON is the problem document mime type.
	MimeJSON = "application/problem+json"
	// MimeXML is the XML variant.
	MimeXML = "application/problem+xml"

	defaultType = "about:blank"
)

// Normalizer converts errors into problem documents.
type Normalizer struct {
	debug         bool
	typeBase      string
	contentTypeID string
	log           *logging.Logger
}

// Config controls the normalizer.
type Config struct {
	// Debug exposes stack traces in 500 documents.
	Debug bool
	// TypeBase prefixes the document type URI with the error code.
	TypeBase string
	// ContentTypeID, when set, forces application/<id>+json (or +xml)
	// instead of the problem mime.
	ContentTypeID string
}

// NewNormalizer creates a normalizer.
func NewNormalizer(cfg Config, log *logging.Logger) *Normalizer {
	if log == nil {
		log = logging.NewNop()
	}
	return &Normalizer{
		debug:         cfg.Debug,
		typeBase:      cfg.TypeBase,
		contentTypeID: cfg.ContentTypeID,
		log:           log,
	}
}

// Normalize maps err onto a Document plus the headers the response must
// carry. Unknown errors become 500 with the original logged; the detail
// carries the stack only in debug mode.
func (n *Normalizer) Normalize(r *http.Request, err error) (Document, http.Header) {
	headers := make(http.Header)

	se := apperrors.GetServiceError(err)
	if se == nil {
		n.log.WithContext(r.Context()).WithError(err).Error("unhandled error")
		detail := "internal server error"
		if n.debug {
			detail = fmt.Sprintf("%v\n%s", err, debug.Stack())
		}
		return Document{
			Type:   n.typeURI(apperrors.CodeInternal),
			Title:  http.StatusText(http.StatusInternalServerError),
			Detail: detail,
			Status: http.StatusInternalServerError,
		}, headers
	}

	doc := Document{
		Type:   n.typeURI(se.Code),
		Title:  http.StatusText(se.HTTPStatus),
		Detail: se.Message,
		Status: se.HTTPStatus,
	}
	if r != nil {
		doc.Instance = r.URL.Path
	}
	for key, values := range se.Headers {
		for _, v := range values {
			headers.Add(key, v)
		}
	}
	enrich(&doc, se, headers)
	return doc, headers
}

func (n *Normalizer) typeURI(code apperrors.Code) string {
	if n.typeBase == "" {
		return defaultType
	}
	return strings.TrimSuffix(n.typeBase, "/") + "/" + string(code)
}

// Write negotiates the document representation from Accept (+xml when
// explicitly preferred, +json otherwise) and writes the response.
func (n *Normalizer) Write(w http.ResponseWriter, r *http.Request, err error) {
	doc, headers := n.Normalize(r, err)
	for key, values := range headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	wantXML := false
	if r != nil {
		accept := r.Header.Get("Accept")
		wantXML = strings.Contains(accept, "xml") && !strings.Contains(accept, "json")
	}

	var (
		body []byte
		mime string
	)
	if wantXML {
		out, encErr := xml.Marshal(problemXML{Document: doc})
		if encErr != nil {
			out = []byte("<problem/>")
		}
		body = append([]byte(xml.Header), out...)
		mime = n.mime(MimeXML, "+xml")
	} else {
		out, encErr := json.Marshal(doc)
		if encErr != nil {
			out = []byte("{}")
		}
		body = out
		mime = n.mime(MimeJSON, "+json")
	}

	w.Header().Set("Content-Type", mime)
	w.WriteHeader(doc.Status)
	_, _ = w.Write(body)
}

func (n *Normalizer) mime(standard, suffix string) string {
	if n.contentTypeID == "" {
		return standard
	}
	return "application/" + n.contentTypeID + suffix
}

type problemXML struct {
	XMLName xml.Name `xml:"problem"`
	Document
}

// Recover converts panics in the wrapped handler into problem
// documents; an in-flight request never propagates a panic to the
// transport.
func (n *Normalizer) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				n.Write(w, r, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
