package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"instance-orchestrator/core/apperrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

// priceListEntry is the subset of a Price List product document we read
type priceListEntry struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// OnDemandPrice returns the hourly on-demand USD price of a Linux instance
// type in the client's region
func (c *Client) OnDemandPrice(ctx context.Context, instanceType string) (float64, error) {
	if c.pricingClient == nil {
		return 0, fmt.Errorf("pricing client not configured")
	}

	out, err := c.pricingClient.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []types.Filter{
			termMatch("instanceType", instanceType),
			termMatch("regionCode", c.region),
			termMatch("operatingSystem", "Linux"),
			termMatch("tenancy", "Shared"),
			termMatch("preInstalledSw", "NA"),
			termMatch("capacitystatus", "Used"),
		},
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return 0, apperrors.Provider("pricing.GetProducts", err)
	}

	for _, doc := range out.PriceList {
		price, ok, err := parseOnDemandPrice(doc)
		if err != nil {
			return 0, err
		}
		if ok {
			return price, nil
		}
	}

	return 0, fmt.Errorf("no on-demand price for %s in %s", instanceType, c.region)
}

func parseOnDemandPrice(doc string) (float64, bool, error) {
	var entry priceListEntry
	if err := json.Unmarshal([]byte(doc), &entry); err != nil {
		return 0, false, fmt.Errorf("failed to parse price list entry: %w", err)
	}

	for _, term := range entry.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			usd, ok := dim.PricePerUnit["USD"]
			if !ok || dim.Unit != "Hrs" {
				continue
			}
			price, err := strconv.ParseFloat(usd, 64)
			if err != nil {
				return 0, false, fmt.Errorf("failed to parse price %q: %w", usd, err)
			}
			return price, true, nil
		}
	}
	return 0, false, nil
}

func termMatch(field, value string) types.Filter {
	return types.Filter{
		Field: aws.String(field),
		Type:  types.FilterTypeTermMatch,
		Value: aws.String(value),
	}
}
