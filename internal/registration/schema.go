package registration

import (
	"fmt"
	"slices"
	"sync"
)

// FieldSpec describes where a single field lives inside a fixed-width
// registration line.
type FieldSpec struct {
	// Name is the field name used in exported records.
	Name string
	// Key is the field key used by the DGT layout documentation.
	Key    string
	Offset int
	Width  int
}

func (f FieldSpec) End() int {
	return f.Offset + f.Width
}

const (
	FieldFechaMatriculacion        = "fechaMatriculacion"
	FieldClaseMatricula            = "claseMatricula"
	FieldFechaTransferencia        = "fechaTransferencia"
	FieldVehiculoMarca             = "vehiculoMarca"
	FieldVehiculoModelo            = "vehiculoModelo"
	FieldCodigoProcedencia         = "codigoProcedencia"
	FieldBastidor                  = "bastidor"
	FieldCodigoTipo                = "codigoTipo"
	FieldCodPropulsion             = "codPropulsion"
	FieldCilindrada                = "cilindrada"
	FieldPotencia                  = "potencia"
	FieldTara                      = "tara"
	FieldPesoMaximo                = "pesoMaximo"
	FieldPlazas                    = "plazas"
	FieldPrecintado                = "precintado"
	FieldEmbargado                 = "embargado"
	FieldTransmisiones             = "transmisiones"
	FieldTitulares                 = "titulares"
	FieldLocalidad                 = "localidad"
	FieldProvincia                 = "provincia"
	FieldProvinciaMatriculacion    = "provinciaMatriculacion"
	FieldTramite                   = "tramite"
	FieldFechaTramite              = "fechaTramite"
	FieldCodigoPostal              = "codigoPostal"
	FieldFechaPrimeraMatriculacion = "fechaPrimeraMatriculacion"
	FieldNuevo                     = "nuevo"
	FieldPersonaJuridica           = "personaJuridica"
	FieldCodigoITV                 = "codigoITV"
	FieldServicio                  = "servicio"
	FieldCodigoMunicipioINE        = "codigoMunicipioINE"
	FieldMunicipio                 = "municipio"
	FieldPotenciaKW                = "potenciaKW"
	FieldPlazasMaximo              = "plazasMaximo"
	FieldCO2                       = "co2"
	FieldRenting                   = "renting"
	FieldTitularTutelado           = "titularTutelado"
)

// Layout is the published layout of the MATRABA microdata file.
var Layout = []FieldSpec{
	{Name: FieldFechaMatriculacion, Key: "FEC_MATRICULA", Offset: 0, Width: 8},
	{Name: FieldClaseMatricula, Key: "COD_CLASE_MAT", Offset: 8, Width: 1},
	{Name: FieldFechaTransferencia, Key: "FEC_TRAMITACION", Offset: 9, Width: 8},
	{Name: FieldVehiculoMarca, Key: "MARCA_ITV", Offset: 17, Width: 30},
	{Name: FieldVehiculoModelo, Key: "MODELO_ITV", Offset: 47, Width: 22},
	{Name: FieldCodigoProcedencia, Key: "COD_PROCEDENCIA_ITV", Offset: 69, Width: 1},
	{Name: FieldBastidor, Key: "BASTIDOR_ITV", Offset: 70, Width: 21},
	{Name: FieldCodigoTipo, Key: "COD_TIPO", Offset: 91, Width: 2},
	{Name: FieldCodPropulsion, Key: "COD_PROPULSION_ITV", Offset: 93, Width: 1},
	{Name: FieldCilindrada, Key: "CILINDRADA_ITV", Offset: 94, Width: 5},
	{Name: FieldPotencia, Key: "POTENCIA_ITV", Offset: 99, Width: 6},
	{Name: FieldTara, Key: "TARA", Offset: 105, Width: 6},
	{Name: FieldPesoMaximo, Key: "PESO_MAX", Offset: 111, Width: 6},
	{Name: FieldPlazas, Key: "NUM_PLAZAS", Offset: 117, Width: 3},
	{Name: FieldPrecintado, Key: "IND_PRECINTO", Offset: 120, Width: 2},
	{Name: FieldEmbargado, Key: "IND_EMBARGO", Offset: 122, Width: 2},
	{Name: FieldTransmisiones, Key: "NUM_TRANSMISIONES", Offset: 124, Width: 2},
	{Name: FieldTitulares, Key: "NUM_TITULARES", Offset: 126, Width: 2},
	{Name: FieldLocalidad, Key: "LOCALIDAD_VEHICULO", Offset: 128, Width: 24},
	{Name: FieldProvincia, Key: "COD_PROVINCIA_VEH", Offset: 152, Width: 2},
	{Name: FieldProvinciaMatriculacion, Key: "COD_PROVINCIA_MAT", Offset: 154, Width: 2},
	{Name: FieldTramite, Key: "CLAVE_TRAMITE", Offset: 156, Width: 1},
	{Name: FieldFechaTramite, Key: "FEC_TRAMITE", Offset: 157, Width: 8},
	{Name: FieldCodigoPostal, Key: "CODIGO_POSTAL", Offset: 165, Width: 5},
	{Name: FieldFechaPrimeraMatriculacion, Key: "FEC_PRIM_MATRICULACION", Offset: 170, Width: 8},
	{Name: FieldNuevo, Key: "IND_NUEVO_USADO", Offset: 178, Width: 1},
	{Name: FieldPersonaJuridica, Key: "PERSONA_FISICA_JURIDICA", Offset: 179, Width: 1},
	{Name: FieldCodigoITV, Key: "CODIGO_ITV", Offset: 180, Width: 9},
	{Name: FieldServicio, Key: "SERVICIO", Offset: 189, Width: 3},
	{Name: FieldCodigoMunicipioINE, Key: "COD_MUNICIPIO_INE_VEH", Offset: 192, Width: 5},
	{Name: FieldMunicipio, Key: "MUNICIPIO", Offset: 197, Width: 30},
	{Name: FieldPotenciaKW, Key: "KW_ITV", Offset: 227, Width: 7},
	{Name: FieldPlazasMaximo, Key: "NUM_PLAZAS_MAX", Offset: 234, Width: 3},
	{Name: FieldCO2, Key: "CO2_ITV", Offset: 237, Width: 5},
	{Name: FieldRenting, Key: "RENTING", Offset: 242, Width: 1},
	{Name: FieldTitularTutelado, Key: "COD_TUTELA", Offset: 243, Width: 1},
}

// LayoutWidth is the width of a record line without its line terminator.
const LayoutWidth = 244

// Schema is an ordered, validated set of field specs. The zero value is an
// empty schema.
type Schema struct {
	fields []FieldSpec
}

// BuildSchema sorts the given definitions by offset and checks that they
// cover a contiguous range starting at offset 0. The input is not modified.
func BuildSchema(defs []FieldSpec) (Schema, error) {
	fields := slices.Clone(defs)
	slices.SortStableFunc(fields, func(a, b FieldSpec) int {
		return a.Offset - b.Offset
	})

	seen := make(map[string]struct{}, len(fields))
	next := 0
	for _, f := range fields {
		if f.Name == "" {
			return Schema{}, fmt.Errorf("build schema: field at offset %d has no name", f.Offset)
		}
		if _, dup := seen[f.Name]; dup {
			return Schema{}, fmt.Errorf("build schema: duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Width <= 0 {
			return Schema{}, fmt.Errorf("build schema: field %q has width %d", f.Name, f.Width)
		}
		if f.Offset != next {
			return Schema{}, fmt.Errorf(
				"build schema: field %q starts at %d, expected %d",
				f.Name, f.Offset, next,
			)
		}
		next = f.End()
	}

	return Schema{fields: fields}, nil
}

// Fields returns a copy of the schema's field specs in offset order.
func (s Schema) Fields() []FieldSpec {
	return slices.Clone(s.fields)
}

func (s Schema) Len() int {
	return len(s.fields)
}

// Width is the sum of all field widths.
func (s Schema) Width() int {
	if len(s.fields) == 0 {
		return 0
	}
	return s.fields[len(s.fields)-1].End()
}

// LineLength is Width plus the trailing line feed.
func (s Schema) LineLength() int {
	return s.Width() + 1
}

func (s Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

var (
	defaultSchemaOnce sync.Once
	defaultSchema     Schema
	defaultSchemaErr  error
)

// InitSchema builds the process-wide schema from Layout. It must be called
// before DefaultSchema, calling it more than once is harmless.
func InitSchema() (Schema, error) {
	defaultSchemaOnce.Do(func() {
		schema, err := BuildSchema(Layout)
		if err != nil {
			defaultSchemaErr = err
			return
		}
		if schema.Width() != LayoutWidth {
			defaultSchemaErr = fmt.Errorf(
				"build schema: layout width is %d, expected %d",
				schema.Width(), LayoutWidth,
			)
			return
		}
		defaultSchema = schema
	})
	return defaultSchema, defaultSchemaErr
}

// DefaultSchema returns the schema built by InitSchema.
func DefaultSchema() Schema {
	if defaultSchema.Len() == 0 {
		panic("registration: DefaultSchema called before InitSchema")
	}
	return defaultSchema
}
