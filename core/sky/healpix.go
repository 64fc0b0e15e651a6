// Package sky turns multi-order probability skymaps into telescope pointings.
// Angles are in degrees unless stated otherwise.
package sky

import (
	"fmt"
	"math"
	"math/bits"
)

// Equatorial is an ICRS position.
type Equatorial struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

var (
	jrll = [12]int64{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	jpll = [12]int64{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}
)

// UniqToNested splits a NUNIQ index into its HEALPix order and nested pixel.
func UniqToNested(uniq int64) (order int, ipix int64, err error) {
	if uniq < 4 {
		return 0, 0, fmt.Errorf("invalid uniq index %d", uniq)
	}
	order = (bits.Len64(uint64(uniq)) - 3) / 2
	ipix = uniq - 4*(int64(1)<<(2*uint(order)))
	return order, ipix, nil
}

// NestedToAngle returns the centre of a nested pixel of the given order.
func NestedToAngle(order int, ipix int64) (Equatorial, error) {
	if order < 0 || order > 29 {
		return Equatorial{}, fmt.Errorf("invalid order %d", order)
	}
	nside := int64(1) << uint(order)
	npface := nside * nside
	npix := 12 * npface
	if ipix < 0 || ipix >= npix {
		return Equatorial{}, fmt.Errorf("pixel %d out of range for order %d", ipix, order)
	}
	fact2 := 4.0 / float64(npix)
	fact1 := float64(nside<<1) * fact2

	face := ipix / npface
	pf := ipix & (npface - 1)
	ix := compressBits(pf)
	iy := compressBits(pf >> 1)

	jr := jrll[face]*nside - ix - iy - 1
	var nr int64
	var z float64
	switch {
	case jr < nside:
		nr = jr
		z = 1 - float64(nr*nr)*fact2
	case jr > 3*nside:
		nr = 4*nside - jr
		z = float64(nr*nr)*fact2 - 1
	default:
		nr = nside
		z = float64(2*nside-jr) * fact1
	}

	tmp := jpll[face]*nr + ix - iy
	if tmp < 0 {
		tmp += 8 * nr
	}
	var phi float64
	if nr == nside {
		phi = math.Pi / float64(4*nside) * float64(tmp)
	} else {
		phi = math.Pi / 4 * float64(tmp) / float64(nr)
	}
	theta := math.Acos(z)
	return Equatorial{
		RA:  normalizeDegrees(phi * 180 / math.Pi),
		Dec: 90 - theta*180/math.Pi,
	}, nil
}

// UniqToAngle returns the centre of a NUNIQ pixel.
func UniqToAngle(uniq int64) (Equatorial, error) {
	order, ipix, err := UniqToNested(uniq)
	if err != nil {
		return Equatorial{}, err
	}
	return NestedToAngle(order, ipix)
}

// compressBits keeps the even bits of v packed into the low half.
func compressBits(v int64) int64 {
	x := uint64(v) & 0x5555555555555555
	x = (x | x>>1) & 0x3333333333333333
	x = (x | x>>2) & 0x0f0f0f0f0f0f0f0f
	x = (x | x>>4) & 0x00ff00ff00ff00ff
	x = (x | x>>8) & 0x0000ffff0000ffff
	x = (x | x>>16) & 0x00000000ffffffff
	return int64(x)
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
