// Package profile describes the immutable, parser-produced shape of an
// appliance's feature set: entity descriptions and the device description
// that groups them. The XML-to-struct parsing itself is out of scope (see
// spec.md §1); this package only defines the shape the core consumes.
package profile

// ProtocolType is the wire type of an entity's value.
type ProtocolType string

const (
	ProtocolTypeBoolean ProtocolType = "Boolean"
	ProtocolTypeInteger ProtocolType = "Integer"
	ProtocolTypeFloat   ProtocolType = "Float"
	ProtocolTypeString  ProtocolType = "String"
	ProtocolTypeObject  ProtocolType = "Object"
)

// protocolTypeByCode maps the profile's content-type code table (1..21) to a
// ProtocolType. Codes outside the table, or left unset, leave an entity's
// ProtocolType empty ("absent" per spec.md §3).
var protocolTypeByCode = map[int]ProtocolType{
	1:  ProtocolTypeBoolean,
	2:  ProtocolTypeInteger,
	3:  ProtocolTypeInteger,
	4:  ProtocolTypeFloat,
	5:  ProtocolTypeString,
	6:  ProtocolTypeObject,
	// Codes 7..21 are enum/bitfield/reference variants that still carry an
	// Integer wire representation (the enum_map supplies display labels).
	7: ProtocolTypeInteger, 8: ProtocolTypeInteger, 9: ProtocolTypeInteger,
	10: ProtocolTypeInteger, 11: ProtocolTypeInteger, 12: ProtocolTypeInteger,
	13: ProtocolTypeInteger, 14: ProtocolTypeInteger, 15: ProtocolTypeInteger,
	16: ProtocolTypeInteger, 17: ProtocolTypeInteger, 18: ProtocolTypeInteger,
	19: ProtocolTypeInteger, 20: ProtocolTypeInteger, 21: ProtocolTypeInteger,
}

// ProtocolTypeFromCode resolves a profile content-type code (1..21) to a
// ProtocolType. ok is false for an unknown code, meaning ProtocolType is
// absent for that entity.
func ProtocolTypeFromCode(code int) (ProtocolType, bool) {
	pt, ok := protocolTypeByCode[code]
	return pt, ok
}

// Access describes who may read/write an entity.
type Access string

const (
	AccessNone       Access = "None"
	AccessRead       Access = "Read"
	AccessReadWrite  Access = "ReadWrite"
	AccessWriteOnly  Access = "WriteOnly"
	AccessReadStatic Access = "ReadStatic"
)

// IsReadable reports whether entities with this access level can be read.
func (a Access) IsReadable() bool {
	switch a {
	case AccessRead, AccessReadWrite, AccessReadStatic:
		return true
	default:
		return false
	}
}

// IsWritable reports whether entities with this access level accept writes.
func (a Access) IsWritable() bool {
	return a == AccessReadWrite || a == AccessWriteOnly
}

// Availability is the tri-valued availability of an entity.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityTrue
	AvailabilityFalse
)

// Execution describes how a program entity may be invoked.
type Execution string

const (
	ExecutionNone          Execution = "None"
	ExecutionSelectOnly    Execution = "SelectOnly"
	ExecutionStartOnly     Execution = "StartOnly"
	ExecutionSelectAndStart Execution = "SelectAndStart"
)

// EntityDescription is the immutable, parser-produced description of one
// appliance feature (status, setting, event, command, option, or program).
type EntityDescription struct {
	UID          uint32
	Name         string
	ProtocolType ProtocolType // empty means absent
	HasProtocolType bool
	Access       Access
	HasAccess    bool
	Available    Availability
	Min          *float64
	Max          *float64
	Step         *float64
	EnumMap      map[int]string // code -> label

	// Unit is a purely informational display unit (e.g. "°C"), carried
	// through from the profile when present. It never affects coercion or
	// wire behaviour.
	Unit string

	// Program-only fields.
	OptionUIDs []uint32
	Execution  Execution
}

// Kind categorizes an entity within a DeviceDescription.
type Kind string

const (
	KindStatus  Kind = "status"
	KindSetting Kind = "setting"
	KindEvent   Kind = "event"
	KindCommand Kind = "command"
	KindOption  Kind = "option"
	KindProgram Kind = "program"
)

// DeviceDescription groups an appliance's categorized entity descriptions.
type DeviceDescription struct {
	Status  []EntityDescription
	Setting []EntityDescription
	Event   []EntityDescription
	Command []EntityDescription
	Option  []EntityDescription
	Program []EntityDescription

	ActiveProgram   *EntityDescription
	SelectedProgram *EntityDescription

	Info DeviceInfo
}

// DeviceInfo carries the small brand/model identification block.
type DeviceInfo struct {
	Brand          string
	Type           string
	Model          string
	Version        string
	Revision       string
	ConnectionType string // e.g. "WiFi"; absent when the profile doesn't supply it.
}

// ByKind returns the entity list for the given category.
func (d *DeviceDescription) ByKind(k Kind) []EntityDescription {
	switch k {
	case KindStatus:
		return d.Status
	case KindSetting:
		return d.Setting
	case KindEvent:
		return d.Event
	case KindCommand:
		return d.Command
	case KindOption:
		return d.Option
	case KindProgram:
		return d.Program
	default:
		return nil
	}
}

// All returns every entity description across all categories, in a stable
// status/setting/event/command/option/program order.
func (d *DeviceDescription) All() []EntityDescription {
	var out []EntityDescription
	for _, k := range []Kind{KindStatus, KindSetting, KindEvent, KindCommand, KindOption, KindProgram} {
		out = append(out, d.ByKind(k)...)
	}
	return out
}
