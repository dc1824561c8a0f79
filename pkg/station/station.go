// Package station holds the CTA station reference model: raw station records
// as they arrive on the stations topic, the per-station line view kept in the
// stations table, and the classifier that maps one to the other.
package station

import (
	_ "embed"

	"github.com/edgeflare/stations/pkg/schema"
)

// Line is a CTA rail line. The zero value means the station serves none of
// the tracked lines.
type Line string

const (
	LineNone  Line = ""
	LineRed   Line = "red"
	LineBlue  Line = "blue"
	LineGreen Line = "green"
)

// Valid reports whether l is one of the tracked lines.
func (l Line) Valid() bool {
	switch l {
	case LineRed, LineBlue, LineGreen:
		return true
	}
	return false
}

// Record is a raw station reference record. One CTA station has several
// records (one per stop and direction); they share StationID.
type Record struct {
	StopID                 int    `json:"stop_id" db:"stop_id"`
	DirectionID            string `json:"direction_id" db:"direction_id"`
	StopName               string `json:"stop_name" db:"stop_name"`
	StationName            string `json:"station_name" db:"station_name"`
	StationDescriptiveName string `json:"station_descriptive_name" db:"station_descriptive_name"`
	StationID              int    `json:"station_id" db:"station_id"`
	Order                  int    `json:"order" db:"order"`
	ServesRed              bool   `json:"red" db:"red"`
	ServesBlue             bool   `json:"blue" db:"blue"`
	ServesGreen            bool   `json:"green" db:"green"`
}

// View is the stations table entry for one station.
type View struct {
	StationID   int    `json:"station_id"`
	StationName string `json:"station_name"`
	Order       int    `json:"order"`
	Line        Line   `json:"line"`
}

// Classify returns the line a record belongs to. A station serving several
// lines is assigned the first of red, blue, green.
func Classify(r Record) Line {
	switch {
	case r.ServesRed:
		return LineRed
	case r.ServesBlue:
		return LineBlue
	case r.ServesGreen:
		return LineGreen
	default:
		return LineNone
	}
}

// ToView builds the table entry for r. ok is false for unclassified stations.
func ToView(r Record) (v View, ok bool) {
	line := Classify(r)
	if line == LineNone {
		return View{}, false
	}
	return View{
		StationID:   r.StationID,
		StationName: r.StationName,
		Order:       r.Order,
		Line:        line,
	}, true
}

var (
	//go:embed schemas/station_key.avsc
	keySchemaSpec string
	//go:embed schemas/station_value.avsc
	recordSchemaSpec string
	//go:embed schemas/station_view.avsc
	viewSchemaSpec string

	// KeySchema encodes station ids used as message keys.
	KeySchema = schema.MustParse(keySchemaSpec)
	// RecordSchema encodes raw station records.
	RecordSchema = schema.MustParse(recordSchemaSpec)
	// ViewSchema encodes stations table entries.
	ViewSchema = schema.MustParse(viewSchemaSpec)
)
