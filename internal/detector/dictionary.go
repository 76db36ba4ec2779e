package detector

import (
	"fmt"
	"slices"
	"strings"
)

// Dictionary names an OpenCV predefined marker dictionary
type Dictionary string

const (
	Dict4x4_50        Dictionary = "DICT_4X4_50"
	Dict4x4_100       Dictionary = "DICT_4X4_100"
	Dict4x4_250       Dictionary = "DICT_4X4_250"
	Dict4x4_1000      Dictionary = "DICT_4X4_1000"
	Dict5x5_50        Dictionary = "DICT_5X5_50"
	Dict5x5_100       Dictionary = "DICT_5X5_100"
	Dict5x5_250       Dictionary = "DICT_5X5_250"
	Dict5x5_1000      Dictionary = "DICT_5X5_1000"
	Dict6x6_50        Dictionary = "DICT_6X6_50"
	Dict6x6_100       Dictionary = "DICT_6X6_100"
	Dict6x6_250       Dictionary = "DICT_6X6_250"
	Dict6x6_1000      Dictionary = "DICT_6X6_1000"
	Dict7x7_50        Dictionary = "DICT_7X7_50"
	Dict7x7_100       Dictionary = "DICT_7X7_100"
	Dict7x7_250       Dictionary = "DICT_7X7_250"
	Dict7x7_1000      Dictionary = "DICT_7X7_1000"
	DictArucoOriginal Dictionary = "DICT_ARUCO_ORIGINAL"
	DictAprilTag16h5  Dictionary = "DICT_APRILTAG_16h5"
	DictAprilTag25h9  Dictionary = "DICT_APRILTAG_25h9"
	DictAprilTag36h10 Dictionary = "DICT_APRILTAG_36h10"
	DictAprilTag36h11 Dictionary = "DICT_APRILTAG_36h11"
)

type dictionaryInfo struct {
	bits int // marker side in bits, excluding the border
	size int // number of markers
}

var dictionaries = map[Dictionary]dictionaryInfo{
	Dict4x4_50:        {4, 50},
	Dict4x4_100:       {4, 100},
	Dict4x4_250:       {4, 250},
	Dict4x4_1000:      {4, 1000},
	Dict5x5_50:        {5, 50},
	Dict5x5_100:       {5, 100},
	Dict5x5_250:       {5, 250},
	Dict5x5_1000:      {5, 1000},
	Dict6x6_50:        {6, 50},
	Dict6x6_100:       {6, 100},
	Dict6x6_250:       {6, 250},
	Dict6x6_1000:      {6, 1000},
	Dict7x7_50:        {7, 50},
	Dict7x7_100:       {7, 100},
	Dict7x7_250:       {7, 250},
	Dict7x7_1000:      {7, 1000},
	DictArucoOriginal: {5, 1024},
	DictAprilTag16h5:  {4, 30},
	DictAprilTag25h9:  {5, 35},
	DictAprilTag36h10: {6, 2320},
	DictAprilTag36h11: {6, 587},
}

// ParseDictionary resolves a dictionary name. Matching ignores case.
func ParseDictionary(name string) (Dictionary, error) {
	for d := range dictionaries {
		if strings.EqualFold(string(d), strings.TrimSpace(name)) {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown marker dictionary %q", name)
}

// Dictionaries returns every supported dictionary name, sorted
func Dictionaries() []Dictionary {
	out := make([]Dictionary, 0, len(dictionaries))
	for d := range dictionaries {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// Size returns the number of markers in the dictionary, 0 if unknown
func (d Dictionary) Size() int {
	return dictionaries[d].size
}

// Bits returns the marker side length in bits, 0 if unknown
func (d Dictionary) Bits() int {
	return dictionaries[d].bits
}

// Contains reports whether id is a valid marker id for the dictionary
func (d Dictionary) Contains(id int) bool {
	return id >= 0 && id < d.Size()
}

func (d Dictionary) String() string {
	return string(d)
}

// Valid reports whether d is a known dictionary
func (d Dictionary) Valid() bool {
	_, ok := dictionaries[d]
	return ok
}
