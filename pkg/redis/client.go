// Package redis caches the gateway message ID to recipient mapping so
// delivery receipts resolve without a table lookup on the hot path.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
	"github.com/zapgate/campaign-service/environments"
	"github.com/zapgate/campaign-service/internal/domain"
	"github.com/zapgate/campaign-service/pkg/logger"
)

type Client struct {
	client valkey.Client
}

const (
	messageRefKeyPrefix = "msgref:"
	messageRefTTL       = 72 * time.Hour
)

type messageRef struct {
	CampaignID  int64 `json:"campaignId"`
	RecipientID int64 `json:"recipientId"`
}

func NewRedisClient(cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client}, nil
}

// CacheMessageRef stores the message ID to recipient mapping. The TTL
// outlives the gateway's receipt redelivery window; after that the DB index
// takes over.
func (c *Client) CacheMessageRef(ctx context.Context, messageID string, campaignID, recipientID int64) error {
	data, err := json.Marshal(messageRef{CampaignID: campaignID, RecipientID: recipientID})
	if err != nil {
		return fmt.Errorf("failed to marshal message ref: %w", err)
	}

	key := messageRefKeyPrefix + messageID

	err = c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(data)).Ex(messageRefTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to cache message ref: %w", err)
	}

	logger.Debugf("Cached message ref %s -> campaign %d recipient %d", messageID, campaignID, recipientID)

	return nil
}

// GetMessageRef resolves a gateway message ID. A missing key comes back as
// domain.ErrNotFound; callers fall back to the database.
func (c *Client) GetMessageRef(ctx context.Context, messageID string) (int64, int64, error) {
	key := messageRefKeyPrefix + messageID

	result := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return 0, 0, domain.ErrNotFound
		}
		return 0, 0, fmt.Errorf("failed to get message ref: %w", result.Error())
	}

	data, err := result.ToString()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read message ref: %w", err)
	}

	var ref messageRef
	if err := json.Unmarshal([]byte(data), &ref); err != nil {
		return 0, 0, fmt.Errorf("failed to unmarshal message ref: %w", err)
	}

	return ref.CampaignID, ref.RecipientID, nil
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
