package registration

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HeaderMarker starts the title line DGT places at the top of every file.
const HeaderMarker = "Vehículos matriculados"

// PowerKWUnavailable is written in place of KW_ITV when the power is unknown.
const PowerKWUnavailable = "*******"

// ParseFailure describes a line that could not be turned into a Record.
type ParseFailure struct {
	Err        error
	LineNumber int
	RawLine    string
	// Fields holds the trimmed raw values sliced out of the line, keyed by
	// field name.
	Fields map[string]string
}

func (f ParseFailure) Description() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

func (f ParseFailure) String() string {
	return fmt.Sprintf("line %d: %s", f.LineNumber, f.Description())
}

// FieldError is the error carried by a ParseFailure when a single field
// could not be coerced.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %q: %s", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

var (
	errRequired     = errors.New("value is required")
	errInvalidDate  = errors.New("invalid date")
	errInvalidBool  = errors.New("unrecognized indicator")
	errInvalidClass = errors.New("unknown registration class")
)

// Parser turns fixed-width lines into records.
type Parser struct {
	schema Schema
	vin    FieldSpec
}

func NewParser(schema Schema) (Parser, error) {
	for _, f := range schema.fields {
		if f.Name == FieldBastidor {
			return Parser{schema: schema, vin: f}, nil
		}
	}
	return Parser{}, fmt.Errorf("new parser: schema has no %s field", FieldBastidor)
}

// ParseLine parses a single line. lineNumber is 1-based and only used for
// failures. Both return values are nil when the line carries no record:
// blank lines, the header line, and lines without a VIN.
func (p Parser) ParseLine(line string, lineNumber int) (*Record, *ParseFailure) {
	if strings.TrimRight(line, "\r\n") == "" || strings.HasPrefix(line, HeaderMarker) {
		return nil, nil
	}

	runes := []rune(line)
	if slice(runes, p.vin) == "" {
		return nil, nil
	}

	fields := make(map[string]string, p.schema.Len())
	for _, f := range p.schema.fields {
		fields[f.Name] = slice(runes, f)
	}

	record, err := newRecord(fields)
	if err != nil {
		return nil, &ParseFailure{
			Err:        err,
			LineNumber: lineNumber,
			RawLine:    line,
			Fields:     fields,
		}
	}
	return &record, nil
}

// slice cuts a field out of a line. Offsets count characters, which match
// the source bytes because the file is ISO-8859-1.
func slice(runes []rune, f FieldSpec) string {
	if f.Offset >= len(runes) {
		return ""
	}
	end := min(f.End(), len(runes))
	return strings.TrimSpace(string(runes[f.Offset:end]))
}

func newRecord(fields map[string]string) (Record, error) {
	c := coercer{fields: fields}

	record := Record{
		RegistrationDate:      c.requiredDate(FieldFechaMatriculacion),
		RegistrationClass:     c.class(FieldClaseMatricula),
		TransferDate:          c.date(FieldFechaTransferencia),
		Make:                  c.text(FieldVehiculoMarca),
		Model:                 c.text(FieldVehiculoModelo),
		OriginCode:            c.text(FieldCodigoProcedencia),
		VIN:                   c.text(FieldBastidor),
		VehicleType:           c.text(FieldCodigoTipo),
		PropulsionCode:        c.text(FieldCodPropulsion),
		Displacement:          c.decimal(FieldCilindrada),
		FiscalPower:           c.decimal(FieldPotencia),
		TareWeight:            c.decimal(FieldTara),
		MaxWeight:             c.decimal(FieldPesoMaximo),
		Seats:                 c.integer(FieldPlazas),
		Sealed:                c.indicator(FieldPrecintado),
		Seized:                c.indicator(FieldEmbargado),
		Transmissions:         c.integer(FieldTransmisiones),
		Owners:                c.integer(FieldTitulares),
		Locality:              c.text(FieldLocalidad),
		Province:              c.text(FieldProvincia),
		RegistrationProvince:  c.text(FieldProvinciaMatriculacion),
		Procedure:             c.text(FieldTramite),
		ProcedureDate:         c.requiredDate(FieldFechaTramite),
		PostalCode:            c.text(FieldCodigoPostal),
		FirstRegistrationDate: c.date(FieldFechaPrimeraMatriculacion),
		New:                   c.vocabulary(FieldNuevo, "N", "U"),
		LegalEntity:           c.vocabulary(FieldPersonaJuridica, "X", "D"),
		ITVCode:               c.text(FieldCodigoITV),
		Service:               c.text(FieldServicio),
		MunicipalityCode:      c.integer(FieldCodigoMunicipioINE),
		Municipality:          c.text(FieldMunicipio),
		PowerKW:               c.powerKW(FieldPotenciaKW),
		MaxSeats:              c.integer(FieldPlazasMaximo),
		CO2:                   c.optionalInt(FieldCO2),
		Renting:               c.indicator(FieldRenting),
		Guardianship:          c.indicator(FieldTitularTutelado),
	}
	if c.err != nil {
		return Record{}, c.err
	}
	return record, nil
}

// coercer converts raw field values, keeping the first error it runs into.
// Once an error is set every further conversion returns a zero value.
type coercer struct {
	fields map[string]string
	err    error
}

func (c *coercer) fail(field, value string, err error) {
	if c.err == nil {
		c.err = &FieldError{Field: field, Value: value, Err: err}
	}
}

func (c *coercer) text(field string) string {
	return c.fields[field]
}

// ConvertDate turns a DDMMYYYY value into an ISO date. An empty value
// returns ok == false.
func ConvertDate(value string) (date Date, ok bool, err error) {
	if value == "" {
		return Date{}, false, nil
	}
	if len(value) != 8 {
		return Date{}, false, errInvalidDate
	}
	iso := value[4:8] + "-" + value[2:4] + "-" + value[0:2]
	date, err = ParseDate(iso)
	if err != nil {
		return Date{}, false, errInvalidDate
	}
	return date, true, nil
}

func (c *coercer) date(field string) *Date {
	if c.err != nil {
		return nil
	}
	value := c.fields[field]
	date, ok, err := ConvertDate(value)
	if err != nil {
		c.fail(field, value, err)
		return nil
	}
	if !ok {
		return nil
	}
	return &date
}

func (c *coercer) requiredDate(field string) Date {
	if c.err != nil {
		return Date{}
	}
	date := c.date(field)
	if date == nil {
		c.fail(field, c.fields[field], errRequired)
		return Date{}
	}
	return *date
}

// ConvertIndicator maps the SI/S/NO/N vocabulary, an empty value is false.
func ConvertIndicator(value string) (bool, error) {
	switch value {
	case "SI", "S":
		return true, nil
	case "", "NO", "N":
		return false, nil
	}
	return false, errInvalidBool
}

func (c *coercer) indicator(field string) bool {
	if c.err != nil {
		return false
	}
	value := c.fields[field]
	result, err := ConvertIndicator(value)
	if err != nil {
		c.fail(field, value, err)
	}
	return result
}

// vocabulary handles two-letter indicators where neither letter is
// optional, such as N(ew)/U(sed).
func (c *coercer) vocabulary(field, yes, no string) bool {
	if c.err != nil {
		return false
	}
	value := c.fields[field]
	switch value {
	case yes:
		return true
	case no:
		return false
	}
	c.fail(field, value, fmt.Errorf("%w: expected %s or %s", errInvalidBool, yes, no))
	return false
}

func (c *coercer) class(field string) RegistrationClass {
	if c.err != nil {
		return ""
	}
	value := RegistrationClass(c.fields[field])
	if !value.Valid() {
		c.fail(field, string(value), errInvalidClass)
		return ""
	}
	return value
}

func (c *coercer) decimal(field string) float64 {
	if c.err != nil {
		return 0
	}
	value := c.fields[field]
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.fail(field, value, numError(err))
		return 0
	}
	return result
}

func (c *coercer) integer(field string) int {
	if c.err != nil {
		return 0
	}
	value := c.fields[field]
	result, err := strconv.Atoi(value)
	if err != nil {
		c.fail(field, value, numError(err))
		return 0
	}
	return result
}

func (c *coercer) optionalInt(field string) *int {
	if c.err != nil || c.fields[field] == "" {
		return nil
	}
	result := c.integer(field)
	if c.err != nil {
		return nil
	}
	return &result
}

func (c *coercer) powerKW(field string) *float64 {
	if c.err != nil {
		return nil
	}
	value := c.fields[field]
	if value == PowerKWUnavailable {
		return nil
	}
	result := c.decimal(field)
	if c.err != nil {
		return nil
	}
	return &result
}

// numError drops the strconv prefix, the field error already names the
// value.
func numError(err error) error {
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return numErr.Err
	}
	return err
}
