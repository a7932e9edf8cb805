package search

import (
	"bytes"
	"context"
	"encoding/json"

	"example.com/marketplace/services/orders/config"
	"example.com/marketplace/services/orders/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient maintains the order reporting index. Indexing runs in the
// best-effort phase after the core transaction commits; the database stays
// the source of truth.
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexOrder writes the order's reporting document, keyed by order number so
// repeated indexing after each transition overwrites in place
func (c *ElasticClient) IndexOrder(ctx context.Context, order *models.Order, gig *models.Gig) error {
	orderDoc := map[string]interface{}{
		"id":                order.ID,
		"order_number":      order.OrderNumber,
		"buyer_id":          order.BuyerID,
		"seller_profile_id": order.SellerProfileID,
		"gig_id":            order.GigID,
		"package_name":      order.PackageName,
		"total_price":       order.TotalPrice,
		"currency":          order.Currency,
		"status":            order.Status,
		"express_delivery":  order.ExpressDelivery,
		"priority_rank":     order.PriorityRank,
		"delivery_deadline": order.DeliveryDeadline,
		"extension_count":   order.ExtensionCount,
		"created_at":        order.CreatedAt,
		"updated_at":        order.UpdatedAt,
	}
	if gig != nil {
		orderDoc["gig_title"] = gig.Title
	}
	if order.CompletedAt != nil {
		orderDoc["completed_at"] = order.CompletedAt
	}
	if order.CancelledAt != nil {
		orderDoc["cancelled_at"] = order.CancelledAt
	}

	docJSON, err := json.Marshal(orderDoc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: order.OrderNumber,
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("order_number", order.OrderNumber).Msg("order indexed for reporting")
	return nil
}
