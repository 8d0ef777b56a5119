/*
DESCRIPTION
  nal.go provides HEVC network abstraction layer unit construction:
  emulation prevention, the two byte NAL unit header, Annex-B start codes
  and access unit assembly.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package nal provides construction of HEVC network abstraction layer
// units and their Annex-B serialisation.
package nal

import (
	"github.com/pkg/errors"
)

// UnitType is an HEVC NAL unit type as given by table 7-1 of the
// specifications.
type UnitType uint8

// NAL unit types used by the encoder.
const (
	TypeTrailN    UnitType = 0
	TypeTrailR    UnitType = 1
	TypeRADLN     UnitType = 6
	TypeRADLR     UnitType = 7
	TypeRASLN     UnitType = 8
	TypeRASLR     UnitType = 9
	TypeBLAWLP    UnitType = 16
	TypeIDRWRADL  UnitType = 19
	TypeIDRNLP    UnitType = 20
	TypeCRA       UnitType = 21
	TypeVPS       UnitType = 32
	TypeSPS       UnitType = 33
	TypePPS       UnitType = 34
	TypeAUD       UnitType = 35
	TypeEOS       UnitType = 36
	TypeEOB       UnitType = 37
	TypeFD        UnitType = 38
	TypePrefixSEI UnitType = 39
	TypeSuffixSEI UnitType = 40
)

// IsIRAP reports whether t is an intra random access point type.
func (t UnitType) IsIRAP() bool { return t >= TypeBLAWLP && t <= 23 }

// IsParamSet reports whether t is a parameter set type.
func (t UnitType) IsParamSet() bool {
	return t == TypeVPS || t == TypeSPS || t == TypePPS
}

// ErrPayloadTooLarge is returned when a NAL payload exceeds what the
// encoder is prepared to serialise in one unit.
var ErrPayloadTooLarge = errors.New("NAL payload too large")

// maxPayload bounds a single unit's RBSP. A coded slice of a large frame
// fits comfortably; anything bigger indicates a runaway substream.
const maxPayload = 1 << 30

// Unit is one NAL unit: a two byte header plus a raw byte sequence payload.
// The payload is stored unescaped; emulation prevention bytes are inserted
// at serialisation time.
type Unit struct {
	Type       UnitType
	LayerID    uint8
	TemporalID uint8 // temporal_id_plus1 - 1
	RBSP       []byte
}

// NewUnit returns a Unit of the given type with temporal ID 0, taking
// ownership of rbsp.
func NewUnit(t UnitType, rbsp []byte) *Unit {
	return &Unit{Type: t, RBSP: rbsp}
}

// header returns the two byte nal_unit_header.
func (u *Unit) header() [2]byte {
	var h [2]byte
	h[0] = byte(u.Type)<<1 | u.LayerID>>5
	h[1] = u.LayerID<<3 | (u.TemporalID + 1)
	return h
}

// EBSP returns the encapsulated byte sequence payload: the RBSP with
// emulation prevention bytes inserted wherever the sequences 0x000000,
// 0x000001, 0x000002 or 0x000003 would otherwise occur.
func (u *Unit) EBSP() ([]byte, error) {
	if len(u.RBSP) > maxPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(u.RBSP))
	}
	out := make([]byte, 0, len(u.RBSP)+len(u.RBSP)/64+2)
	var zeros int
	for _, b := range u.RBSP {
		if zeros >= 2 && b <= 3 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out, nil
}

// CountEmulations returns the number of emulation prevention bytes EBSP
// would insert into p.
func CountEmulations(p []byte) int {
	var n, zeros int
	for _, b := range p {
		if zeros >= 2 && b <= 3 {
			n++
			zeros = 0
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return n
}

// AnnexB appends the Annex-B serialisation of u to dst and returns the
// result. Parameter sets and IRAP slices get the four byte start code;
// other units the three byte form.
func (u *Unit) AnnexB(dst []byte) ([]byte, error) {
	if u.Type.IsParamSet() || u.Type.IsIRAP() {
		dst = append(dst, 0x00, 0x00, 0x00, 0x01)
	} else {
		dst = append(dst, 0x00, 0x00, 0x01)
	}
	h := u.header()
	dst = append(dst, h[0], h[1])
	ebsp, err := u.EBSP()
	if err != nil {
		return nil, err
	}
	return append(dst, ebsp...), nil
}

// AccessUnit is an ordered list of the NAL units belonging to one coded
// picture, or to the stream headers.
type AccessUnit []*Unit

// Bytes returns the Annex-B serialisation of the access unit.
func (au AccessUnit) Bytes() ([]byte, error) {
	var out []byte
	for _, u := range au {
		var err error
		out, err = u.AnnexB(out)
		if err != nil {
			return nil, errors.Wrapf(err, "NAL type %d", u.Type)
		}
	}
	return out, nil
}
