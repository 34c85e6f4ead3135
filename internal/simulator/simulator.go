// Package simulator stands in for the sensor board: it generates plausible
// readings and sends them as wire-format datagrams.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"time"

	"airdetect/internal/modules/airquality/parser"
	"airdetect/internal/modules/airquality/types"
)

// Non-reading lines: the board's sensor error report, a truncated line and
// a line with non-numeric values.
var garbageLines = []string{
	"DHT11 Read Error!",
	"Humidity: 45.2%, Temperature: 23.5 C",
	"Humidity: nan%, Temperature: nan C, Methane: 0.00 PPM, TVOC: 0 PPB, CO2eq: 400 PPM, Dust(PM2.5): 0.0 ug/m^3",
}

type bounds struct{ lo, hi, step float64 }

var (
	humidityBounds    = bounds{20, 90, 0.8}
	temperatureBounds = bounds{5, 40, 0.3}
	methaneBounds     = bounds{-5, 5, 0.15}
	tvocBounds        = bounds{0, 1000, 15}
	co2Bounds         = bounds{400, 2000, 20}
	pm25Bounds        = bounds{0, 150, 1.5}
)

// Generator produces a bounded random walk for each field. It is not safe for
// concurrent use.
type Generator struct {
	rnd *rand.Rand
	cur types.Reading
}

func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		cur: types.Reading{Humidity: 45, Temperature: 22, Methane: 0, TVOC: 100, CO2: 450, PM25: 10},
	}
}

// Next returns the next reading. Values are rounded to the precision the wire
// format carries so that Format and Parse round-trip exactly.
func (g *Generator) Next() types.Reading {
	g.cur.Humidity = g.walk(g.cur.Humidity, humidityBounds, 10)
	g.cur.Temperature = g.walk(g.cur.Temperature, temperatureBounds, 10)
	g.cur.Methane = g.walk(g.cur.Methane, methaneBounds, 100)
	g.cur.TVOC = g.walk(g.cur.TVOC, tvocBounds, 1)
	g.cur.CO2 = g.walk(g.cur.CO2, co2Bounds, 1)
	g.cur.PM25 = g.walk(g.cur.PM25, pm25Bounds, 10)
	return g.cur
}

func (g *Generator) walk(v float64, b bounds, scale float64) float64 {
	v += (g.rnd.Float64()*2 - 1) * b.step
	v = math.Max(b.lo, math.Min(b.hi, v))
	return math.Round(v*scale) / scale
}

type Config struct {
	Addr     string
	Interval time.Duration
	// Count 0 sends until ctx is done.
	Count int
	// GarbageEvery k > 0 replaces every k-th datagram with a non-reading line.
	GarbageEvery int
	Seed         uint64
}

// Run sends datagrams to cfg.Addr until Count is reached or ctx is done. The
// first datagram goes out immediately.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("invalid interval %v: must be > 0", cfg.Interval)
	}

	conn, err := net.Dial("udp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	defer conn.Close()

	gen := NewGenerator(cfg.Seed)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for i := 1; cfg.Count == 0 || i <= cfg.Count; i++ {
		line := Line(gen, i, cfg.GarbageEvery)
		if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
			// UDP has no receiver guarantee; a refused send is logged and retried next tick.
			logger.Warn("send failed", "addr", cfg.Addr, "seq", i, "error", err)
		} else {
			logger.Debug("sent", "addr", cfg.Addr, "seq", i, "line", line)
		}

		if cfg.Count != 0 && i == cfg.Count {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	logger.Info("simulation finished", "sent", cfg.Count)
	return nil
}

// Line returns the seq-th datagram body.
func Line(gen *Generator, seq, garbageEvery int) string {
	if garbageEvery > 0 && seq%garbageEvery == 0 {
		return garbageLines[(seq/garbageEvery-1)%len(garbageLines)]
	}
	return parser.Format(gen.Next())
}
