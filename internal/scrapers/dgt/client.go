// Package dgt replays the form session of the DGT statistics portal
// (WEB_IEST_CONSULTA) that leads to the registration microdata archives.
//
// The portal is a JSF application: every page embeds a javax.faces.ViewState
// token that has to be posted back verbatim with the next form submission,
// so the steps below can only be performed in order on a single session.
package dgt

import (
	"bytes"
	"context"
	"dgtscraper/internal/components/assert"
	"dgtscraper/internal/components/chrono"
	"dgtscraper/internal/components/telemetry"
	"fmt"
	"io"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseUrl   = "https://sedeapl.dgt.gob.es/WEB_IEST_CONSULTA"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/113.0"
)

const (
	report_client_establish = "client.establish"
	report_client_submit    = "client.submit"
)

const (
	categoriaPath    = "/categoria.faces"
	subcategoriaPath = "/subcategoria.faces"
	microdatosPath   = "/microdatos.faces"
)

const (
	stepLanding       = "landing"
	stepVehicles      = "vehicles"
	stepRegistrations = "registrations"
	stepMicrodata     = "microdata"
	stepYear          = "year"
)

// StepDownload names the archive transfer in errors, including failures
// reading the body after Establish returned.
const StepDownload = "download"

// Form field names and values posted to the portal. These must match the
// rendered forms exactly, the portal rejects submissions with unknown
// component ids.
const (
	viewStateField = "javax.faces.ViewState"

	menuForm              = "menu"
	vehiclesField         = "menu:listadoMenu:0:j_id49"
	vehiclesValue         = "Veh%EDculos"
	registrationsField    = "menu:listadoMenu:0:listadoSubMenu:3:j_id42"
	registrationsValue    = "Matriculaciones"
	reportsForm           = "accesoInformes"
	microdataField        = "accesoInformes:listadoInformesExternos:2:j_id95"
	microdataValue        = "Microdatos"
	queryForm             = "configuracionInfPersonalizado"
	dailyFilterField      = "configuracionInfPersonalizado:filtroDiario"
	yearFilterField       = "configuracionInfPersonalizado:filtroMesAnyo"
	monthFilterField      = "configuracionInfPersonalizado:filtroMesMes"
	yearSupportField      = "configuracionInfPersonalizado:j_id126"
	dailySubmitField      = "configuracionInfPersonalizado:j_id115"
	monthlySubmitField    = "configuracionInfPersonalizado:j_id131"
	submitValue           = "Descargar"
	ajaxRequestField      = "AJAXREQUEST"
	ajaxRequestValue      = "_viewRoot"
	dailyFilterDateLayout = "02/01/2006"
)

var tracer = otel.Tracer("dgtscraper/scrapers/dgt")

type Options struct {
	BaseUrl   string
	UserAgent string
	// Timeout bounds every request including reading its body, zero means
	// no timeout. Downloads of a whole month take minutes.
	Timeout time.Duration
	// RequestsPerSecond paces the form submissions, zero disables pacing.
	RequestsPerSecond float64
	// BypassCloudflare swaps the transport for one with a browser-like TLS
	// fingerprint.
	BypassCloudflare bool
}

// Client creates anonymous portal sessions. It holds no session state
// itself, every call to Establish starts from a fresh cookie jar.
type Client struct {
	opts  Options
	clock chrono.API
	tel   telemetry.API
}

func NewClient(opts Options, clock chrono.API, tel telemetry.API) (*Client, error) {
	assert.NotNil(clock)
	assert.NotNil(tel)

	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if _, err := url.Parse(opts.BaseUrl); err != nil {
		return nil, fmt.Errorf("dgt: invalid base url: %w", err)
	}

	return &Client{
		opts:  opts,
		clock: clock,
		tel:   telemetry.NewScopedAPI("dgt_scraper", tel),
	}, nil
}

// session is the state of a single walk through the portal.
type session struct {
	http      *resty.Client
	viewState string
	tel       telemetry.API
}

func (c *Client) newSession() (*session, error) {
	baseUrl, err := url.Parse(c.opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(c.opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if c.opts.BypassCloudflare {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	httpClient.SetHeader("user-agent", c.opts.UserAgent)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	if c.opts.Timeout > 0 {
		httpClient.SetTimeout(c.opts.Timeout)
	}

	if c.opts.RequestsPerSecond > 0 {
		rateLimiter := rate.NewLimiter(rate.Limit(c.opts.RequestsPerSecond), 1)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, c.tel)

	return &session{http: httpClient, tel: c.tel}, nil
}

// formStep is a single form submission of the walk.
type formStep struct {
	name   string
	path   string
	fields map[string]string
}

// formSteps returns the submissions that follow the landing page, in the
// order they have to be posted. The last one requests the archive.
func formSteps(q Query, now time.Time) []formStep {
	steps := []formStep{
		{
			name: stepVehicles,
			path: categoriaPath,
			fields: map[string]string{
				menuForm:      menuForm,
				vehiclesField: vehiclesValue,
			},
		},
		{
			name: stepRegistrations,
			path: categoriaPath,
			fields: map[string]string{
				menuForm:           menuForm,
				registrationsField: registrationsValue,
			},
		},
		{
			name: stepMicrodata,
			path: subcategoriaPath,
			fields: map[string]string{
				reportsForm:    reportsForm,
				microdataField: microdataValue,
			},
		},
	}

	if q.Daily() {
		// the daily form still posts the month selector, with the value it
		// is rendered with: the month before the current one
		defaultMonth := chrono.PreviousMonth(now)
		day := time.Date(q.Year, q.Month, q.Day, 0, 0, 0, 0, time.UTC)
		return append(steps, formStep{
			name: StepDownload,
			path: microdatosPath,
			fields: map[string]string{
				queryForm:        queryForm,
				dailyFilterField: day.Format(dailyFilterDateLayout),
				yearFilterField:  strconv.Itoa(defaultMonth.Year()),
				monthFilterField: strconv.Itoa(int(defaultMonth.Month())),
				dailySubmitField: submitValue,
			},
		})
	}

	year := strconv.Itoa(q.Year)
	return append(steps,
		formStep{
			name: stepYear,
			path: microdatosPath,
			fields: map[string]string{
				ajaxRequestField: ajaxRequestValue,
				queryForm:        queryForm,
				yearFilterField:  year,
				yearSupportField: yearSupportField,
			},
		},
		formStep{
			name: StepDownload,
			path: microdatosPath,
			fields: map[string]string{
				queryForm:          queryForm,
				dailyFilterField:   "",
				yearFilterField:    year,
				monthFilterField:   strconv.Itoa(int(q.Month)),
				monthlySubmitField: submitValue,
			},
		},
	)
}

// Establish walks the portal for the given period and returns the body of
// the archive download. The caller must close it.
func (c *Client) Establish(ctx context.Context, q Query) (io.ReadCloser, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Establish")
	defer span.End()
	span.SetAttributes(attribute.String("query", q.String()))

	c.tel.ReportDebug(report_client_establish, q.String())

	s, err := c.newSession()
	if err != nil {
		c.tel.ReportBroken(report_client_establish, fmt.Errorf("new session: %w", err))
		span.SetStatus(codes.Error, "failed to create session")
		return nil, err
	}

	err = s.landing(ctx)
	if err != nil {
		c.tel.ReportBroken(report_client_establish, err, q.String())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	steps := formSteps(q, c.clock.Now())
	for _, step := range steps[:len(steps)-1] {
		err = s.submit(ctx, step)
		if err != nil {
			c.tel.ReportBroken(report_client_establish, err, q.String())
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	body, err := s.download(ctx, steps[len(steps)-1])
	if err != nil {
		c.tel.ReportWarning(report_client_establish, err, q.String())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return body, nil
}

func (s *session) landing(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, stepLanding)
	defer span.End()

	res, err := s.http.R().
		SetContext(ctx).
		Get(categoriaPath)
	if err != nil {
		span.RecordError(err)
		return &TransportError{Step: stepLanding, Err: err}
	}
	return s.updateViewState(stepLanding, res)
}

func (s *session) submit(ctx context.Context, step formStep) error {
	ctx, span := tracer.Start(ctx, step.name)
	defer span.End()

	s.tel.ReportDebug(report_client_submit, step.name, step.path)

	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(s.form(step)).
		Post(step.path)
	if err != nil {
		span.RecordError(err)
		return &TransportError{Step: step.name, Err: err}
	}
	return s.updateViewState(step.name, res)
}

func (s *session) download(ctx context.Context, step formStep) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, step.name)
	defer span.End()

	s.tel.ReportDebug(report_client_submit, step.name, step.path)

	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(s.form(step)).
		SetDoNotParseResponse(true).
		Post(step.path)
	if err != nil {
		span.RecordError(err)
		return nil, &TransportError{Step: step.name, Err: err}
	}
	return validateResponse(res.RawResponse)
}

func (s *session) form(step formStep) map[string]string {
	form := make(map[string]string, len(step.fields)+1)
	for k, v := range step.fields {
		form[k] = v
	}
	form[viewStateField] = s.viewState
	return form
}

func (s *session) updateViewState(step string, res *resty.Response) error {
	if !res.IsSuccess() {
		return &TransportError{Step: step, StatusCode: res.StatusCode()}
	}
	viewState, err := extractViewState(step, res.Body(), res.Header().Get("content-type"))
	if err != nil {
		return err
	}
	s.viewState = viewState
	return nil
}

// extractViewState returns the continuation token embedded in a page.
func extractViewState(step string, body []byte, contentType string) (string, error) {
	doc, err := parseMarkup(bytes.NewReader(body), contentType)
	if err != nil {
		return "", &ProtocolError{Step: step, Reason: fmt.Sprintf("parse page: %s", err)}
	}
	viewState := doc.Find(`input[name="javax.faces.ViewState"]`).AttrOr("value", "")
	if viewState == "" {
		return "", &ProtocolError{Step: step, Reason: "missing " + viewStateField}
	}
	return viewState, nil
}
