package dgt

import (
	"dgtscraper/pkg/htmlutil"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// errorMessageSelector matches the message element the form renders when a
// query is rejected.
const errorMessageSelector = ".rich-messages-label"

var archiveContentTypes = map[string]struct{}{
	"application/zip":              {},
	"application/x-zip":            {},
	"application/x-zip-compressed": {},
	"application/octet-stream":     {},
}

var markupContentTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
}

// validateResponse hands back the body of a response carrying the archive.
// Every other outcome closes the body and returns a TransportError,
// DomainError or ProtocolError.
func validateResponse(res *http.Response) (io.ReadCloser, error) {
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, &TransportError{Step: StepDownload, StatusCode: res.StatusCode}
	}

	contentType := res.Header.Get("content-type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		res.Body.Close()
		return nil, &ProtocolError{
			Step:   StepDownload,
			Reason: fmt.Sprintf("unparsable content type %q", contentType),
		}
	}

	if _, ok := archiveContentTypes[mediaType]; ok {
		return res.Body, nil
	}
	defer res.Body.Close()

	if _, ok := markupContentTypes[mediaType]; ok {
		return nil, &DomainError{Message: errorMessage(res.Body, contentType)}
	}

	return nil, &ProtocolError{
		Step:   StepDownload,
		Reason: fmt.Sprintf("unexpected content type %q", mediaType),
	}
}

// errorMessage extracts the message of an error page, falling back to
// UnknownDomainError when the page cannot be read or has no message.
func errorMessage(body io.Reader, contentType string) string {
	doc, err := parseMarkup(body, contentType)
	if err != nil {
		return UnknownDomainError
	}
	message := htmlutil.FirstText(doc.Find(errorMessageSelector))
	if message == "" {
		return UnknownDomainError
	}
	return message
}

// parseMarkup parses an HTML body, converting it from the charset declared
// by the response (the form pages are served as ISO-8859-1).
func parseMarkup(body io.Reader, contentType string) (*goquery.Document, error) {
	reader, err := charset.NewReader(body, contentType)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(reader)
}
