package registration

import (
	"encoding/json"
	"fmt"
	"time"
)

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses an ISO (YYYY-MM-DD) date, rejecting dates that do not
// exist in the calendar.
func ParseDate(iso string) (Date, error) {
	t, err := time.Parse(time.DateOnly, iso)
	if err != nil {
		return Date{}, err
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var iso string
	if err := json.Unmarshal(data, &iso); err != nil {
		return err
	}
	parsed, err := ParseDate(iso)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RegistrationClass is the COD_CLASE_MAT code of a registration.
type RegistrationClass string

const (
	ClassOrdinaria          RegistrationClass = "0"
	ClassTuristica          RegistrationClass = "1"
	ClassRemolque           RegistrationClass = "2"
	ClassDiplomatica        RegistrationClass = "3"
	ClassReservada          RegistrationClass = "4"
	ClassVehiculoEspecial   RegistrationClass = "5"
	ClassCiclomotor         RegistrationClass = "6"
	ClassTransporteTemporal RegistrationClass = "7"
	ClassHistorica          RegistrationClass = "8"
)

var registrationClassNames = map[RegistrationClass]string{
	ClassOrdinaria:          "Ordinaria",
	ClassTuristica:          "Turistica",
	ClassRemolque:           "Remolque",
	ClassDiplomatica:        "Diplomatica",
	ClassReservada:          "Reservada",
	ClassVehiculoEspecial:   "VehiculoEspecial",
	ClassCiclomotor:         "Ciclomotor",
	ClassTransporteTemporal: "TransporteTemporal",
	ClassHistorica:          "Historica",
}

func (c RegistrationClass) Valid() bool {
	_, ok := registrationClassNames[c]
	return ok
}

// Name returns the human readable name of the class, or the raw code if it
// is not known.
func (c RegistrationClass) Name() string {
	name, ok := registrationClassNames[c]
	if !ok {
		return string(c)
	}
	return name
}

// Record is a single vehicle registration. Optional values are pointers,
// nil meaning the source line carried no value.
type Record struct {
	RegistrationDate      Date              `json:"fechaMatriculacion"`
	RegistrationClass     RegistrationClass `json:"claseMatricula"`
	TransferDate          *Date             `json:"fechaTransferencia"`
	Make                  string            `json:"vehiculoMarca"`
	Model                 string            `json:"vehiculoModelo"`
	OriginCode            string            `json:"codigoProcedencia"`
	VIN                   string            `json:"bastidor"`
	VehicleType           string            `json:"codigoTipo"`
	PropulsionCode        string            `json:"codPropulsion"`
	Displacement          float64           `json:"cilindrada"`
	FiscalPower           float64           `json:"potencia"`
	TareWeight            float64           `json:"tara"`
	MaxWeight             float64           `json:"pesoMaximo"`
	Seats                 int               `json:"plazas"`
	Sealed                bool              `json:"precintado"`
	Seized                bool              `json:"embargado"`
	Transmissions         int               `json:"transmisiones"`
	Owners                int               `json:"titulares"`
	Locality              string            `json:"localidad"`
	Province              string            `json:"provincia"`
	RegistrationProvince  string            `json:"provinciaMatriculacion"`
	Procedure             string            `json:"tramite"`
	ProcedureDate         Date              `json:"fechaTramite"`
	PostalCode            string            `json:"codigoPostal"`
	FirstRegistrationDate *Date             `json:"fechaPrimeraMatriculacion"`
	New                   bool              `json:"nuevo"`
	LegalEntity           bool              `json:"personaJuridica"`
	ITVCode               string            `json:"codigoITV"`
	Service               string            `json:"servicio"`
	MunicipalityCode      int               `json:"codigoMunicipioINE"`
	Municipality          string            `json:"municipio"`
	PowerKW               *float64          `json:"potenciaKW"`
	MaxSeats              int               `json:"plazasMaximo"`
	CO2                   *int              `json:"co2"`
	Renting               bool              `json:"renting"`
	Guardianship          bool              `json:"titularTutelado"`
}

// PayloadCapacity is the maximum weight minus the tare weight.
func (r Record) PayloadCapacity() float64 {
	return r.MaxWeight - r.TareWeight
}

// Key is the natural key of a record: its VIN and the date of the
// procedure it was registered for.
func (r Record) Key() string {
	return r.VIN + "|" + r.ProcedureDate.String()
}

// Row returns the record's values in Layout order. Dates are rendered as ISO
// strings and nil optionals stay nil so the row can be handed to a SQL
// driver or a table writer directly.
func (r Record) Row() []any {
	optDate := func(d *Date) any {
		if d == nil {
			return nil
		}
		return d.String()
	}
	optFloat := func(f *float64) any {
		if f == nil {
			return nil
		}
		return *f
	}
	optInt := func(i *int) any {
		if i == nil {
			return nil
		}
		return *i
	}

	return []any{
		r.RegistrationDate.String(),
		string(r.RegistrationClass),
		optDate(r.TransferDate),
		r.Make,
		r.Model,
		r.OriginCode,
		r.VIN,
		r.VehicleType,
		r.PropulsionCode,
		r.Displacement,
		r.FiscalPower,
		r.TareWeight,
		r.MaxWeight,
		r.Seats,
		r.Sealed,
		r.Seized,
		r.Transmissions,
		r.Owners,
		r.Locality,
		r.Province,
		r.RegistrationProvince,
		r.Procedure,
		r.ProcedureDate.String(),
		r.PostalCode,
		optDate(r.FirstRegistrationDate),
		r.New,
		r.LegalEntity,
		r.ITVCode,
		r.Service,
		r.MunicipalityCode,
		r.Municipality,
		optFloat(r.PowerKW),
		r.MaxSeats,
		optInt(r.CO2),
		r.Renting,
		r.Guardianship,
	}
}
