package ai

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/metrics"
	"github.com/verdantsentinel/backend/internal/service/market"
)

const marketPriceToolName = "getMarketPrice"

type marketPriceInput struct {
	CropName string `json:"cropName" jsonschema:"description=Name of the crop or plant to look up"`
}

type marketPriceOutput struct {
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Unit     string  `json:"unit"`
	Error    string  `json:"error,omitempty"`
}

// newMarketPriceTool 将报价器封装为模型可调用的工具。报价失败时把错误
// 作为工具结果交给模型，而不是中断整个回合。
func newMarketPriceTool(prices market.PriceOracle) (tool.InvokableTool, error) {
	return utils.InferTool(
		marketPriceToolName,
		"Get the current market price of a crop or plant. Returns the price with its currency and unit.",
		func(ctx context.Context, in marketPriceInput) (marketPriceOutput, error) {
			quote, err := prices.Quote(ctx, in.CropName)
			if err != nil {
				metrics.ToolCallsTotal.WithLabelValues(marketPriceToolName, "error").Inc()
				log.Warn().Err(err).Str("component", "ai").Str("crop", in.CropName).Msg("market price lookup failed")
				return marketPriceOutput{Error: err.Error()}, nil
			}

			metrics.ToolCallsTotal.WithLabelValues(marketPriceToolName, "ok").Inc()
			return marketPriceOutput{
				Price:    quote.Price.InexactFloat64(),
				Currency: quote.Currency,
				Unit:     quote.Unit,
			}, nil
		},
	)
}
