// Package device describes what can be plugged into a hub port: the numeric
// type ids reported by the hardware, the behavioural category each id maps
// to, and the capability interfaces a driver exposes for each category.
package device

import "strconv"

// TypeID is the identifier a port reports for the attached device model.
type TypeID uint8

// Category is the behavioural class a TypeID belongs to.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryTilt
	CategoryInfrared
	CategoryColorDistance
	CategoryColor
	CategoryUltrasonic
	CategoryForce
	CategoryUnencodedMotor
	CategoryEncodedMotor
)

func (c Category) String() string {
	switch c {
	case CategoryTilt:
		return "tilt"
	case CategoryInfrared:
		return "infrared"
	case CategoryColorDistance:
		return "color-distance"
	case CategoryColor:
		return "color"
	case CategoryUltrasonic:
		return "ultrasonic"
	case CategoryForce:
		return "force"
	case CategoryUnencodedMotor:
		return "unencoded-motor"
	case CategoryEncodedMotor:
		return "encoded-motor"
	default:
		return "unknown"
	}
}

// Known device type ids
const (
	TypeSimpleMotor          TypeID = 1  // Powered Up medium motor
	TypeTrainMotor           TypeID = 2  // Powered Up train motor
	TypeWeDoTilt             TypeID = 34 // WeDo 2.0 tilt sensor
	TypeWeDoInfrared         TypeID = 35 // WeDo 2.0 motion sensor
	TypeColorDistance        TypeID = 37 // BOOST color and distance sensor
	TypeBoostInteractive     TypeID = 38 // BOOST interactive motor
	TypeTechnicLargeMotor    TypeID = 46
	TypeTechnicXLMotor       TypeID = 47
	TypeSpikeMediumMotor     TypeID = 48
	TypeSpikeLargeMotor      TypeID = 49
	TypeSpikeColor           TypeID = 61
	TypeSpikeUltrasonic      TypeID = 62
	TypeSpikeForce           TypeID = 63
	TypeSpikeSmallMotor      TypeID = 65
	TypeTechnicMediumAngular TypeID = 75
	TypeTechnicLargeAngular  TypeID = 76
)

// categories is the single lookup table from type id to category. Every id
// appears exactly once; ids not listed are CategoryUnknown.
var categories = map[TypeID]Category{
	TypeSimpleMotor:          CategoryUnencodedMotor,
	TypeTrainMotor:           CategoryUnencodedMotor,
	TypeWeDoTilt:             CategoryTilt,
	TypeWeDoInfrared:         CategoryInfrared,
	TypeColorDistance:        CategoryColorDistance,
	TypeBoostInteractive:     CategoryEncodedMotor,
	TypeTechnicLargeMotor:    CategoryEncodedMotor,
	TypeTechnicXLMotor:       CategoryEncodedMotor,
	TypeSpikeMediumMotor:     CategoryEncodedMotor,
	TypeSpikeLargeMotor:      CategoryEncodedMotor,
	TypeSpikeColor:           CategoryColor,
	TypeSpikeUltrasonic:      CategoryUltrasonic,
	TypeSpikeForce:           CategoryForce,
	TypeSpikeSmallMotor:      CategoryEncodedMotor,
	TypeTechnicMediumAngular: CategoryEncodedMotor,
	TypeTechnicLargeAngular:  CategoryEncodedMotor,
}

// CategoryFor returns the category of a device type id.
func CategoryFor(id TypeID) Category {
	if c, ok := categories[id]; ok {
		return c
	}
	return CategoryUnknown
}

// ModeNames lists the selectable telemetry modes of a category, indexed by
// ModeIndex. Categories with a single fixed layout return nil.
func (c Category) ModeNames() []string {
	switch c {
	case CategoryColorDistance:
		return []string{
			"Reflected light intensity and color",
			"Ambient light intensity",
			"Distance",
		}
	case CategoryColor:
		return []string{
			"Reflected light intensity and color",
			"Ambient light intensity and color",
		}
	default:
		return nil
	}
}

func (id TypeID) String() string {
	return strconv.Itoa(int(id))
}
