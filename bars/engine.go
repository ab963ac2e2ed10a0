// Package bars folds raw ticks into 1-minute OHLCV bars with a day-scoped
// running VWAP and a rolling per-bar volume history.
package bars

import (
	"sync"
	"time"

	"github.com/yeouido/trader/types"
)

const (
	// MaxBars caps the completed-bar history kept per stock.
	MaxBars = 60
	// volumeWindow is the rolling average used for the volume ratio.
	volumeWindow = 20
)

// VolumeInfo describes the current bar's volume against the rolling average.
type VolumeInfo struct {
	CurrentBarVolume int64
	AverageVolume    float64
	Ratio            float64
}

type vwapState struct {
	cumPV  float64
	cumVol int64
	vwap   float64
	day    string
}

type stockState struct {
	mu        sync.Mutex
	current   *types.Bar
	completed []types.Bar
	volumes   []int64
	vwap      vwapState
	lastPrice int64
	dayOpen   int64
}

// Engine aggregates ticks per stock. Ticks for different stocks are
// independent; per-stock mutation is serialized by a per-stock mutex.
type Engine struct {
	mu     sync.RWMutex
	stocks map[string]*stockState
	loc    *time.Location
}

// NewEngine creates an engine. loc determines the trading-day boundary.
func NewEngine(loc *time.Location) *Engine {
	return &Engine{stocks: make(map[string]*stockState), loc: loc}
}

func (e *Engine) state(code string) *stockState {
	e.mu.RLock()
	s, ok := e.stocks[code]
	e.mu.RUnlock()
	if ok {
		return s
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok = e.stocks[code]; ok {
		return s
	}
	s = &stockState{}
	e.stocks[code] = s
	return s
}

// OnTick folds one tick into the stock's state. It returns the bar that was
// frozen by this tick, or nil when the tick landed inside the current bucket.
func (e *Engine) OnTick(tick types.Tick) *types.Bar {
	s := e.state(tick.StockCode)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := tick.At
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(e.loc)
	barStart := now.Truncate(time.Minute)

	// Day-boundary VWAP reset.
	day := now.Format("2006-01-02")
	if s.vwap.day != day {
		s.vwap = vwapState{day: day}
		s.dayOpen = tick.Price
	}

	if tick.Volume > 0 {
		s.vwap.cumPV += float64(tick.Price) * float64(tick.Volume)
		s.vwap.cumVol += tick.Volume
	}
	if s.vwap.cumVol > 0 {
		s.vwap.vwap = s.vwap.cumPV / float64(s.vwap.cumVol)
	} else {
		s.vwap.vwap = float64(tick.Price)
	}
	s.lastPrice = tick.Price

	var frozen *types.Bar
	if s.current == nil || !s.current.Start.Equal(barStart) {
		if s.current != nil {
			done := *s.current
			s.completed = append(s.completed, done)
			if len(s.completed) > MaxBars {
				s.completed = s.completed[len(s.completed)-MaxBars:]
			}
			s.volumes = append(s.volumes, done.Volume)
			if len(s.volumes) > MaxBars {
				s.volumes = s.volumes[len(s.volumes)-MaxBars:]
			}
			frozen = &done
		}
		s.current = &types.Bar{
			StockCode: tick.StockCode,
			Start:     barStart,
			Open:      tick.Price,
			High:      tick.Price,
			Low:       tick.Price,
			Close:     tick.Price,
			Volume:    tick.Volume,
		}
		return frozen
	}

	b := s.current
	if tick.Price > b.High {
		b.High = tick.Price
	}
	if tick.Price < b.Low {
		b.Low = tick.Price
	}
	b.Close = tick.Price
	b.Volume += tick.Volume
	return nil
}

// VWAP returns the day's volume-weighted average price for a stock.
func (e *Engine) VWAP(code string) float64 {
	s := e.state(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vwap.vwap
}

// CurrentPrice returns the last seen price (zero when no ticks yet).
func (e *Engine) CurrentPrice(code string) int64 {
	s := e.state(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrice
}

// DayOpen returns the first traded price of the day.
func (e *Engine) DayOpen(code string) int64 {
	s := e.state(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dayOpen
}

// RecentBars returns up to count completed bars, oldest first.
func (e *Engine) RecentBars(code string, count int) []types.Bar {
	s := e.state(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.completed)
	if count > n {
		count = n
	}
	out := make([]types.Bar, count)
	copy(out, s.completed[n-count:])
	return out
}

// BarCount returns the number of completed bars for a stock.
func (e *Engine) BarCount(code string) int {
	s := e.state(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}

// VolumeInfo compares the current (in-progress) bar's volume against the
// rolling 20-bar average of completed bars.
func (e *Engine) VolumeInfo(code string) VolumeInfo {
	s := e.state(code)
	s.mu.Lock()
	defer s.mu.Unlock()

	info := VolumeInfo{}
	if s.current != nil {
		info.CurrentBarVolume = s.current.Volume
	}

	n := len(s.volumes)
	if n == 0 {
		return info
	}
	window := s.volumes
	if n > volumeWindow {
		window = s.volumes[n-volumeWindow:]
	}
	var sum int64
	for _, v := range window {
		sum += v
	}
	info.AverageVolume = float64(sum) / float64(len(window))
	if info.AverageVolume > 0 {
		info.Ratio = float64(info.CurrentBarVolume) / info.AverageVolume
	}
	return info
}

// CompletedVolumeInfo compares the most recently completed bar's volume
// against the 20-bar average of the bars before it. This is the view the
// signal detector uses, since it runs on bar completion.
func (e *Engine) CompletedVolumeInfo(code string) VolumeInfo {
	s := e.state(code)
	s.mu.Lock()
	defer s.mu.Unlock()

	info := VolumeInfo{}
	n := len(s.volumes)
	if n == 0 {
		return info
	}
	info.CurrentBarVolume = s.volumes[n-1]

	start := n - 1 - volumeWindow
	if start < 0 {
		start = 0
	}
	window := s.volumes[start : n-1]
	if len(window) == 0 {
		return info
	}
	var sum int64
	for _, v := range window {
		sum += v
	}
	info.AverageVolume = float64(sum) / float64(len(window))
	if info.AverageVolume > 0 {
		info.Ratio = float64(info.CurrentBarVolume) / info.AverageVolume
	}
	return info
}
