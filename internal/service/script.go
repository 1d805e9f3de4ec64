package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/atlasfin/atlas/internal/domain"
)

// StrategyScript is the default strategy-to-script translation: a Python
// backtest rendered from a template. The dispatcher treats the translation
// as opaque, so alternative translators can be swapped in.
func StrategyScript(req domain.JobRequest) (string, error) {
	if _, ok := strategyParams[req.Strategy]; !ok {
		return "", fmt.Errorf("unknown strategy %q", req.Strategy)
	}
	symbolsJSON, err := json.Marshal(req.Symbols)
	if err != nil {
		return "", fmt.Errorf("failed to encode symbols: %w", err)
	}

	var b strings.Builder
	err = scriptTemplate.Execute(&b, map[string]any{
		"Strategy":  req.Strategy,
		"Symbols":   string(symbolsJSON),
		"Timeframe": req.Timeframe,
		"From":      req.From,
		"To":        req.To,
		"Fast":      strategyParams[req.Strategy].fast,
		"Slow":      strategyParams[req.Strategy].slow,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render strategy script: %w", err)
	}
	return b.String(), nil
}

// StrategyDependencies names the packages the rendered script imports.
func StrategyDependencies(req domain.JobRequest) []string {
	return []string{"pandas", "numpy", "yfinance", "matplotlib"}
}

type maParams struct {
	fast int
	slow int
}

var strategyParams = map[string]maParams{
	"ema_crossover": {fast: 12, slow: 26},
	"sma_crossover": {fast: 20, slow: 50},
	"buy_and_hold":  {fast: 0, slow: 0},
}

var scriptTemplate = template.Must(template.New("backtest").Parse(`import json
import numpy as np
import pandas as pd
import yfinance as yf
import matplotlib
matplotlib.use("Agg")
import matplotlib.pyplot as plt

SYMBOLS = {{.Symbols}}
STRATEGY = {{printf "%q" .Strategy}}
FAST, SLOW = {{.Fast}}, {{.Slow}}

def metric(name, value):
    print("##METRIC## " + json.dumps({"name": name, "value": float(value)}))

def artifact(kind, path):
    print("##ARTIFACT## " + json.dumps({"type": kind, "path": path}))

frames = []
for symbol in SYMBOLS:
    data = yf.download(symbol, start={{printf "%q" .From}}, end={{printf "%q" .To}},
                       interval={{printf "%q" .Timeframe}}, progress=False)
    close = data["Close"].squeeze().rename(symbol)
    frames.append(close)
prices = pd.concat(frames, axis=1).dropna()

if STRATEGY == "buy_and_hold":
    signal = pd.DataFrame(1.0, index=prices.index, columns=prices.columns)
else:
    span = {"ema_crossover": True, "sma_crossover": False}[STRATEGY]
    fast = prices.ewm(span=FAST).mean() if span else prices.rolling(FAST).mean()
    slow = prices.ewm(span=SLOW).mean() if span else prices.rolling(SLOW).mean()
    signal = (fast > slow).astype(float).shift(1).fillna(0.0)

returns = prices.pct_change().fillna(0.0)
strat_returns = (signal * returns).mean(axis=1)
equity = (1.0 + strat_returns).cumprod()

years = max((equity.index[-1] - equity.index[0]).days / 365.25, 1e-9)
cagr = equity.iloc[-1] ** (1.0 / years) - 1.0
drawdown = (equity / equity.cummax() - 1.0).min()
vol = strat_returns.std() * np.sqrt(252)
sharpe = (strat_returns.mean() * 252) / vol if vol > 0 else 0.0

metric("cagr", cagr)
metric("max_drawdown", drawdown)
metric("sharpe", sharpe)
metric("total_return", equity.iloc[-1] - 1.0)

equity.plot(title=f"{STRATEGY} equity curve")
plt.savefig("equity.png")
artifact("plot", "equity.png")
equity.to_csv("equity.csv")
artifact("csv", "equity.csv")
print(f"backtest finished: {len(equity)} bars")
`))
