package main

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"stocksim/internal/bootstrap"
	"stocksim/internal/game"
	"stocksim/internal/remote"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword hides input on a terminal and falls back to a plain read when
// stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderProgress(p game.Progress) {
	if p.GameOver {
		warn.Printf("Day %d/%d: game over\n", p.Day, p.MaxDay)
		return
	}
	accent.Printf("Day %d/%d\n", p.Day, p.MaxDay)
}

func renderDashboard(snap bootstrap.Snapshot) {
	pf := snap.Portfolio
	accent.Println("\n== DASHBOARD ==")
	renderProgress(pf.Progress)
	fmt.Printf("Cash:        %s\n", formatMoney(pf.Valuation.Cash))
	fmt.Printf("Stocks:      %s\n", formatMoney(pf.Valuation.StockValuation))
	fmt.Printf("Total:       %s\n", formatMoney(pf.Valuation.Total))

	fmt.Println()
	accent.Println("Holdings")
	if len(pf.Positions) == 0 {
		printInfo("No holdings yet.")
	} else {
		fmt.Printf("%-8s %-20s %10s %14s %16s %9s\n", "TAG", "NAME", "QTY", "AVG COST", "VALUE", "CHANGE")
		for _, p := range pf.Positions {
			fmt.Printf("%-8s %-20s %10s %14s %16s %9s\n",
				p.Tag,
				truncate(p.Name, 20),
				comma(p.Quantity),
				formatMoney(p.AvgCost),
				formatMoney(p.Value),
				colorizePercent(p.ChangePct),
			)
		}
	}

	if len(pf.Watchlist) > 0 {
		tags := make([]string, 0, len(pf.Watchlist))
		for _, id := range pf.Watchlist {
			tags = append(tags, tagFor(snap.Roster, id))
		}
		fmt.Println()
		accent.Print("Watching: ")
		fmt.Println(strings.Join(tags, ", "))
	}

	if len(pf.Events) > 0 {
		fmt.Println()
		accent.Println("News")
		for _, e := range pf.Events {
			fmt.Printf("  day %-3d %s\n", e.Day, e.Headline)
		}
	}

	if n := len(pf.Transactions); n > 0 {
		fmt.Println()
		accent.Println("Recent Orders")
		start := n - 5
		if start < 0 {
			start = 0
		}
		for i := n - 1; i >= start; i-- {
			tx := pf.Transactions[i]
			fmt.Printf("  day %-3d %-4s %-8s %10s @ %s\n",
				tx.DayOffset, tx.Side, tagFor(snap.Roster, tx.InstrumentID), comma(tx.Quantity), formatMoney(tx.Price))
		}
	}
	fmt.Println()
}

func renderQuotes(quotes []game.Quote) {
	accent.Println("\n== STOCK MARKET ==")
	if len(quotes) == 0 {
		printInfo("No stocks found.")
		return
	}
	fmt.Printf("%-8s %-24s %14s %14s %9s\n", "TAG", "NAME", "PRICE", "CHANGE", "%")
	for _, q := range quotes {
		fmt.Printf("%-8s %-24s %14s %14s %9s\n",
			q.Tag,
			truncate(q.Name, 24),
			formatMoney(q.Price),
			colorizeMoney(q.ChangeAmount),
			colorizePercent(q.ChangePct),
		)
	}
	fmt.Println()
}

func renderStockDetail(d game.StockDetail) {
	accent.Printf("\n== %s (%s) ==\n", d.Tag, d.Name)
	fmt.Printf("Current Price: %s\n", formatMoney(d.Price))
	fmt.Printf("Today:         %s (%s)\n", colorizeMoney(d.ChangeAmount), colorizePercent(d.ChangePct))
	fmt.Printf("Volatility:    %.2f%%\n", d.Volatility*100)

	if len(d.History) > 1 {
		first, last := d.History[0], d.History[len(d.History)-1]
		fmt.Printf("Trend:         %s\n", colorizeMoney(last-first))
		fmt.Println()
		accent.Println("Recent Closes")
		fmt.Printf("%-6s %14s\n", "DAY", "PRICE")
		from := len(d.History) - 8
		if from < 0 {
			from = 0
		}
		for i := len(d.History) - 1; i >= from; i-- {
			fmt.Printf("%-6d %14s\n", i-(len(d.History)-1), formatMoney(d.History[i]))
		}
	}
	fmt.Println()
}

func renderNews(events []game.Event) {
	if len(events) == 0 {
		return
	}
	accent.Println("Headlines")
	for _, e := range events {
		fmt.Printf("  day %-3d %s\n", e.Day, e.Headline)
	}
	fmt.Println()
}

// renderPosts prints persona commentary. A nil posts slice derives it from
// changePct.
func renderPosts(changePct float64, posts []remote.Post) {
	if posts == nil {
		for _, p := range game.Personas {
			posts = append(posts, remote.Post{Persona: p.Name, Comment: p.Comment(changePct)})
		}
	}
	if len(posts) == 0 {
		return
	}
	accent.Println("Chatter")
	for _, p := range posts {
		fmt.Printf("  %s: %s\n", truncate(p.Persona, 32), p.Comment)
	}
	fmt.Println()
}

func renderResult(r game.Result) {
	accent.Println("\n== RESULT ==")
	fmt.Printf("Days played:   %d\n", r.Day)
	fmt.Printf("Starting cash: %s\n", formatMoney(r.InitialCash))
	fmt.Printf("Cash:          %s\n", formatMoney(r.Cash))
	fmt.Printf("Stocks:        %s\n", formatMoney(r.StockValuation))
	fmt.Printf("Total:         %s\n", formatMoney(r.Total))
	fmt.Printf("Profit:        %s (%s)\n", colorizeMoney(r.Profit), colorizePercent(r.ProfitRate))
	if !r.GameOver {
		printInfo("The game is still running.")
	}
	fmt.Println()
}

func tagFor(roster []game.Quote, id string) string {
	for _, q := range roster {
		if q.InstrumentID == id {
			return q.Tag
		}
	}
	return id
}

func colorizeMoney(v float64) string {
	text := signedMoney(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

// formatMoney renders v with thousands separators and two decimals.
func formatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := int64(math.Round(v * 100))
	return fmt.Sprintf("%s%s.%02d", sign, comma(cents/100), cents%100)
}

func signedMoney(v float64) string {
	if v > 0 {
		return "+" + formatMoney(v)
	}
	return formatMoney(v)
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
