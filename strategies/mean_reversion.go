package strategies

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/davidmag854/fpg-trading/indicators"
	"github.com/davidmag854/fpg-trading/market"
	"github.com/davidmag854/fpg-trading/source"
	"github.com/davidmag854/fpg-trading/strategy"
)

const MeanReversionName = "MeanReversion"

// MeanReversion fades moves outside a band of BandWidth standard deviations
// around the mean of the last DaysBack daily closes. Price has to stay
// beyond a band for ConfirmTicks consecutive samples before it enters
// toward the mean; the stop sits on the mean. The position is closed once
// price returns within ExitBand of the mean, or when the instance expires.
type MeanReversion struct {
	strategy.Base

	Exchange         string
	SessionOpen      string
	ExpirationPeriod int
	DaysBack         int
	BandWidth        float64
	ConfirmTicks     int
	ExitBand         float64
	Tolerance        time.Duration

	LastSessionOpen time.Time
	LastFetch       time.Time
	CurrentPrice    float64
	Lower           float64
	Mean            float64
	Upper           float64
	LongCounter     int
	ShortCounter    int
}

func NewMeanReversion(inst strategy.Instance) strategy.Strategy {
	s := &MeanReversion{
		Base:             strategy.NewBase(inst),
		Exchange:         "kraken",
		SessionOpen:      "13:00:00",
		ExpirationPeriod: 3,
		DaysBack:         20,
		BandWidth:        2,
		ConfirmTicks:     60,
		ExitBand:         20,
		Tolerance:        2 * time.Minute,
	}
	s.Declare(
		strategy.String("exchange", &s.Exchange),
		strategy.String("session_open", &s.SessionOpen),
		strategy.Int("expiration_period", &s.ExpirationPeriod),
		strategy.Int("days_back", &s.DaysBack),
		strategy.Float("band_width", &s.BandWidth),
		strategy.Int("confirm_ticks", &s.ConfirmTicks),
		strategy.Float("exit_band", &s.ExitBand),
		strategy.Duration("tolerance", &s.Tolerance),
		strategy.Time("last_session_open", &s.LastSessionOpen),
		strategy.Time("last_fetch", &s.LastFetch),
		strategy.Float("current_price", &s.CurrentPrice),
		strategy.Float("lower_band", &s.Lower),
		strategy.Float("mean", &s.Mean),
		strategy.Float("upper_band", &s.Upper),
		strategy.Int("long_counter", &s.LongCounter),
		strategy.Int("short_counter", &s.ShortCounter),
	)
	return s
}

func (s *MeanReversion) Initialize(ctx context.Context, src source.Source) error {
	inst := s.Instance()
	open, err := market.ParseSessionOpen(s.SessionOpen)
	if err != nil {
		return err
	}

	now := src.Now()
	price, err := src.MidPrice(ctx, inst.Pair)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", inst.ID, err)
	}
	s.CurrentPrice = price
	s.LastFetch = now

	created := inst.CreationTime.UTC()
	anchor := time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, time.UTC).Add(time.Duration(open))
	if anchor.After(now) {
		anchor = anchor.Add(-market.Day)
	}
	s.LastSessionOpen = anchor

	since := anchor.Add(-time.Duration(s.DaysBack) * market.Day)
	bars, err := src.AggregatedBars(ctx, s.Exchange, inst.Pair, open, since, s.DaysBack)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", inst.ID, err)
	}
	bands, err := indicators.NewBands(market.Closes(bars), s.BandWidth)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", inst.ID, err)
	}
	s.Lower, s.Mean, s.Upper = bands.Lower, bands.Mean, bands.Upper

	inst.Activate()
	return nil
}

func (s *MeanReversion) Evaluate(price float64, now time.Time) []strategy.Intent {
	s.CurrentPrice = price
	s.LastFetch = now
	inst := s.Instance()

	s.CheckExpiry(now)
	if inst.IsExpired {
		if inst.HasPosition() {
			return []strategy.Intent{inst.Close()}
		}
		return nil
	}

	if inst.HasPosition() {
		if math.Abs(price-s.Mean) <= s.ExitBand {
			exit := inst.Close()
			inst.Expire()
			return []strategy.Intent{exit}
		}
		return nil
	}

	switch {
	case price >= s.Upper:
		s.LongCounter = 0
		s.ShortCounter++
		if s.ShortCounter >= s.ConfirmTicks && inst.CanOpen(strategy.Short) {
			s.ShortCounter = 0
			return []strategy.Intent{inst.Open(strategy.Short, s.Mean)}
		}
	case price <= s.Lower:
		s.ShortCounter = 0
		s.LongCounter++
		if s.LongCounter >= s.ConfirmTicks && inst.CanOpen(strategy.Long) {
			s.LongCounter = 0
			return []strategy.Intent{inst.Open(strategy.Long, s.Mean)}
		}
	default:
		s.LongCounter, s.ShortCounter = 0, 0
	}
	return nil
}

// CheckExpiry counts a day each time the last sample crosses the rolling
// session open (less Tolerance). The instance expires after
// ExpirationPeriod days, or at the first boundary where it is flat.
func (s *MeanReversion) CheckExpiry(now time.Time) {
	inst := s.Instance()
	if inst.IsExpired || s.LastSessionOpen.IsZero() {
		return
	}
	if now.Add(s.Tolerance).Sub(s.LastSessionOpen) < market.Day {
		return
	}
	inst.DaysElapsed++
	s.LastSessionOpen = s.LastSessionOpen.Add(market.Day)
	if inst.DaysElapsed >= s.ExpirationPeriod || !inst.HasPosition() {
		inst.Expire()
	}
}

func (s *MeanReversion) Describe() string {
	inst := s.Instance()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s on %s (%s)\n", inst.Name, inst.ID, inst.Pair, s.Exchange)
	fmt.Fprintf(&b, "  state:     %s, position %s, amount %.6f\n", inst.State, inst.Position, inst.Amount)
	fmt.Fprintf(&b, "  created:   %s, days %d/%d\n", inst.CreationTime.Format(time.DateTime), inst.DaysElapsed, s.ExpirationPeriod)
	fmt.Fprintf(&b, "  session:   opens %s, last %s\n", s.SessionOpen, s.LastSessionOpen.Format(time.DateTime))
	fmt.Fprintf(&b, "  bands:     %.2f / %.2f / %.2f, price %.2f\n", s.Lower, s.Mean, s.Upper, s.CurrentPrice)
	fmt.Fprintf(&b, "  counters:  long %d, short %d\n", s.LongCounter, s.ShortCounter)
	fmt.Fprintf(&b, "  eligible:  long %t, short %t", inst.LongAllowed, inst.ShortAllowed)
	return b.String()
}

// SessionAnchor is the session open the next expiry day is counted from.
func (s *MeanReversion) SessionAnchor() time.Time { return s.LastSessionOpen }
