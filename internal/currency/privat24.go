package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const privat24URL = "https://api.privatbank.ua/p24api/pubinfo?exchange&coursid=5&json"

// privat24Record is one entry of the Privat bank public exchange API.
type privat24Record struct {
	Ccy     string `json:"ccy"`
	BaseCcy string `json:"base_ccy"`
	Buy     string `json:"buy"`
	Sale    string `json:"sale"`
}

// Privat24 loads UAH exchange rates from the Privat bank public API.
// Direct rates use the buy price, reverse rates are 1/sell.
type Privat24 struct {
	url  string
	http *http.Client
}

func NewPrivat24() *Privat24 {
	return &Privat24{
		url:  privat24URL,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Privat24) Name() string { return "Privat bank" }

func (p *Privat24) Rates(ctx context.Context) ([]Rate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrLoad, err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: wrong status %d from %s", ErrLoad, resp.StatusCode, p.url)
	}

	var records []privat24Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrParse, err)
	}

	exchange := make(map[string]privat24Record)
	for _, rec := range records {
		if rec.BaseCcy != "UAH" {
			continue
		}
		ccy := rec.Ccy
		if ccy == "RUR" {
			ccy = "RUB"
		}
		exchange[ccy] = rec
	}

	var rates []Rate
	for _, ccy := range []string{"EUR", "USD", "RUB"} {
		rec, ok := exchange[ccy]
		if !ok {
			return nil, fmt.Errorf("%w: currency %s missing in response", ErrParse, ccy)
		}
		buy, err := decimal.NewFromString(rec.Buy)
		if err != nil {
			return nil, fmt.Errorf("%w: bad buy rate for %s: %v", ErrParse, ccy, err)
		}
		sale, err := decimal.NewFromString(rec.Sale)
		if err != nil {
			return nil, fmt.Errorf("%w: bad sale rate for %s: %v", ErrParse, ccy, err)
		}
		if sale.IsZero() {
			return nil, fmt.Errorf("%w: zero sale rate for %s", ErrParse, ccy)
		}
		rates = append(rates,
			Rate{From: ccy, To: "UAH", Rate: RoundRate(buy)},
			Rate{From: "UAH", To: ccy, Rate: Inverse(sale)},
		)
	}
	return rates, nil
}
