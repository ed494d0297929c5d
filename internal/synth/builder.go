package synth

import (
	"math"

	"candle-quiz/internal/analysis/patterns"
	"candle-quiz/internal/models"
	"candle-quiz/pkg/utils"
)

const (
	baseline   = 50.0
	trendBias  = 10.0
	bodyWick   = 0.3 // wick per side as a fraction of body for plain bars
	noiseSize  = 3.0
	trendSize  = 5.0
	shadowLong = 2.6 // lower bound of the dominant shadow, in bodies
)

// builder draws bars one at a time from a running price level.
type builder struct {
	r     utils.Stream
	level float64
	bars  []models.Bar
}

func (b *builder) add(o, h, l, c float64) {
	b.bars = append(b.bars, models.Bar{O: o, H: h, L: l, C: c})
	b.level = c
}

// upFrom draws a green bar opening at o with the given body.
func (b *builder) upFrom(o, size, wick float64) {
	c := o + size
	b.add(o, c+size*wick, o-size*wick, c)
}

// downFrom draws a red bar opening at o with the given body.
func (b *builder) downFrom(o, size, wick float64) {
	c := o - size
	b.add(o, o+size*wick, c-size*wick, c)
}

func (b *builder) up(size float64)   { b.upFrom(b.level, size, bodyWick) }
func (b *builder) down(size float64) { b.downFrom(b.level, size, bodyWick) }

func (b *builder) noise(size float64) {
	if b.r.Chance(0.5) {
		b.up(size)
	} else {
		b.down(size)
	}
}

// buildBars lays out filler, context and pattern bars so the pattern
// always ends the sequence. Geometry is clamped but not normalized.
func buildBars(def patterns.Definition, total int, ctx models.Context, r utils.Stream) []models.Bar {
	ctxBars := max(0, min(2, total-2))
	ctxBars = min(ctxBars, max(0, total-def.Bars))
	fill := max(0, total-ctxBars-def.Bars)

	b := &builder{r: r, level: baseline + r.Between(-3, 3)}
	switch ctx.Trend {
	case models.TrendUp:
		b.level -= trendBias
	case models.TrendDown:
		b.level += trendBias
	}

	for i := 0; i < fill; i++ {
		b.noise(noiseSize * r.Between(0.7, 1.3))
	}
	for i := 0; i < ctxBars; i++ {
		size := trendSize * r.Between(0.8, 1.2)
		switch ctx.Trend {
		case models.TrendUp:
			b.up(size)
		case models.TrendDown:
			b.down(size)
		default:
			b.noise(noiseSize * r.Between(0.8, 1.2))
		}
	}

	drawPattern(b, def.Name)

	for i := range b.bars {
		b.bars[i] = utils.ClampBar(b.bars[i])
	}
	return b.bars
}

// drawPattern appends the pattern-defining bars for name.
func drawPattern(b *builder, name string) {
	r := b.r
	switch name {
	case patterns.BullishEngulfing:
		s := r.Between(6, 8)
		b.down(s)
		b.upFrom(b.level-r.Between(0.2, 0.6), s*r.Between(1.3, 1.6), bodyWick)

	case patterns.BearishEngulfing:
		s := r.Between(6, 8)
		b.up(s)
		b.downFrom(b.level+r.Between(0.2, 0.6), s*r.Between(1.3, 1.6), bodyWick)

	case patterns.BullishHarami:
		s := r.Between(9, 11)
		b.down(s)
		o := b.level + 0.25*s
		c := o + s*r.Between(0.15, 0.3)
		b.add(o, c+0.1*s, o-0.1*s, c)

	case patterns.BearishHarami:
		s := r.Between(9, 11)
		b.up(s)
		o := b.level - 0.25*s
		c := o - s*r.Between(0.15, 0.3)
		b.add(o, o+0.1*s, c-0.1*s, c)

	case patterns.PiercingLine:
		s := r.Between(9, 11)
		b.down(s)
		c1 := b.level
		o := c1 - bodyWick*s - s*r.Between(0.1, 0.2)
		c := c1 + s/2 + s*r.Between(0.1, 0.35)
		b.add(o, c+0.1*s, o-0.1*s, c)

	case patterns.DarkCloudCover:
		s := r.Between(9, 11)
		b.up(s)
		c1 := b.level
		o := c1 + bodyWick*s + s*r.Between(0.1, 0.2)
		c := c1 - s/2 - s*r.Between(0.1, 0.35)
		b.add(o, o+0.1*s, c-0.1*s, c)

	case patterns.MorningStar:
		s := r.Between(9, 11)
		b.down(s)
		o := b.level - bodyWick*s - s*r.Between(0.1, 0.3)
		c := o + s*r.Between(-0.05, 0.05)
		b.add(o, math.Max(o, c)+0.2*s, math.Min(o, c)-0.2*s, c)
		b.upFrom(c, s*r.Between(1.3, 1.5), bodyWick)

	case patterns.EveningStar:
		s := r.Between(9, 11)
		b.up(s)
		o := b.level + bodyWick*s + s*r.Between(0.1, 0.3)
		c := o + s*r.Between(-0.05, 0.05)
		b.add(o, math.Max(o, c)+0.2*s, math.Min(o, c)-0.2*s, c)
		b.downFrom(c, s*r.Between(1.3, 1.5), bodyWick)

	case patterns.Doji:
		lead := r.Between(2, 3)
		var o float64
		if r.Chance(0.5) {
			b.up(lead)
			o = b.level + r.Between(0.2, 0.5)
		} else {
			b.down(lead)
			o = b.level - r.Between(0.2, 0.5)
		}
		c := o + r.Between(-0.15, 0.15)
		b.add(o, math.Max(o, c)+r.Between(1.5, 2.5), math.Min(o, c)-r.Between(1.5, 2.5), c)

	case patterns.Hammer:
		b.down(r.Between(5, 6))
		body := r.Between(1.2, 1.8)
		o := b.level - 0.3*body
		c := o + body
		b.add(o, c+0.1*body, o-body*r.Between(shadowLong, shadowLong+0.8), c)

	case patterns.HangingMan:
		b.up(r.Between(5, 6))
		body := r.Between(1.2, 1.8)
		o := b.level + 0.3*body
		c := o - body
		b.add(o, o+0.1*body, c-body*r.Between(shadowLong, shadowLong+0.8), c)

	case patterns.ShootingStar:
		b.up(r.Between(5, 6))
		body := r.Between(1.2, 1.8)
		o := b.level + 0.3*body
		c := o - body
		b.add(o, o+body*r.Between(shadowLong, shadowLong+0.8), c-0.1*body, c)

	default:
		b.up(trendSize)
		b.down(trendSize)
	}
}
