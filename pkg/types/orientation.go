package types

import (
	"fmt"
	"strconv"
)

// Orientation is one of the 8 canonical rotation/mirror states of a photo.
// Values follow the EXIF orientation tag numbering.
type Orientation int

const (
	OrientationUp            Orientation = 1
	OrientationUpMirrored    Orientation = 2
	OrientationDown          Orientation = 3
	OrientationDownMirrored  Orientation = 4
	OrientationLeftMirrored  Orientation = 5
	OrientationRight         Orientation = 6
	OrientationRightMirrored Orientation = 7
	OrientationLeft          Orientation = 8
)

var orientationNames = map[Orientation]string{
	OrientationUp:            "up",
	OrientationUpMirrored:    "up-mirrored",
	OrientationDown:          "down",
	OrientationDownMirrored:  "down-mirrored",
	OrientationLeftMirrored:  "left-mirrored",
	OrientationRight:         "right",
	OrientationRightMirrored: "right-mirrored",
	OrientationLeft:          "left",
}

// AllOrientations returns the 8 canonical orientations in tag order
func AllOrientations() []Orientation {
	return []Orientation{
		OrientationUp, OrientationUpMirrored, OrientationDown, OrientationDownMirrored,
		OrientationLeftMirrored, OrientationRight, OrientationRightMirrored, OrientationLeft,
	}
}

// Valid reports whether o is one of the 8 canonical orientations
func (o Orientation) Valid() bool {
	return o >= OrientationUp && o <= OrientationLeft
}

// Transposed reports whether displaying the pixels in this orientation swaps width and height
func (o Orientation) Transposed() bool {
	return o >= OrientationLeftMirrored && o <= OrientationLeft
}

func (o Orientation) String() string {
	if name, ok := orientationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// ParseOrientation accepts either a name ("right", "up-mirrored") or a tag number ("6")
func ParseOrientation(s string) (Orientation, error) {
	for o, name := range orientationNames {
		if name == s {
			return o, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Orientation(n).Valid() {
		return Orientation(n), nil
	}
	return 0, fmt.Errorf("unknown orientation %q", s)
}
