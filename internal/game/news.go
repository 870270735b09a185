package game

import (
	"fmt"
	"math"

	"stocksim/internal/market"
)

// Headline renders the market-flash line for the day's largest mover.
func Headline(inst market.Instrument, changePct float64) string {
	name := inst.DisplayName
	if name == "" {
		name = inst.ID
	}
	if inst.TickerTag != "" {
		name = fmt.Sprintf("%s (%s)", name, inst.TickerTag)
	}
	mag := math.Abs(changePct)
	switch {
	case changePct >= 5:
		return fmt.Sprintf("%s rockets %.2f%% as buyers pile in", name, mag)
	case changePct > 0:
		return fmt.Sprintf("%s climbs %.2f%% and leads the market", name, mag)
	case changePct <= -5:
		return fmt.Sprintf("%s plunges %.2f%% in heavy selling", name, mag)
	case changePct < 0:
		return fmt.Sprintf("%s slips %.2f%% and drags the market", name, mag)
	default:
		return "Quiet session: no instrument moved"
	}
}

type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var Personas = []Persona{
	{ID: "trend", Name: "Hot Hand (trend follower)", Description: "Rides strong upward moves."},
	{ID: "value", Name: "Patient Value (value investor)", Description: "Buys fear, sells euphoria."},
	{ID: "timid", Name: "Careful Kim (capital preserver)", Description: "Hates volatility above all."},
}

// Comment is the persona's reaction to a daily change in percent.
func (p Persona) Comment(change float64) string {
	switch p.ID {
	case "trend":
		switch {
		case change > 3:
			return "Momentum is strong. This is the ride to catch."
		case change > 0:
			return "An uptrend is forming. Keep an eye on it."
		case change < -3:
			return "Never catch a falling knife. Get out."
		}
		return "No clear trend. Wait and see."
	case "value":
		switch {
		case change < -5:
			return "At this price it's a bargain. Buy."
		case change < 0:
			return "A fine level to accumulate slowly."
		case change > 5:
			return "Overheated. Consider taking profit."
		}
		return "The business hasn't changed. Be patient."
	case "timid":
		switch {
		case math.Abs(change) > 4:
			return "Way too volatile. This is scary."
		case change > 0:
			return "A small gain. Maybe lock it in now?"
		case change < 0:
			return "We're losing money. What do we do?"
		}
		return "Nice and quiet. Let's keep it that way."
	}
	return ""
}
