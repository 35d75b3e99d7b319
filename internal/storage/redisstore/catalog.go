package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	defaultKeyPrefix = "pos:product:"

	fieldName  = "name"
	fieldPrice = "price"
	fieldStock = "stock"

	applyApplied  = 1
	applyNotFound = -1
	applyConflict = -2
)

// applyStockScript проверяет все ожидаемые остатки и только потом пишет.
// ARGV — пары expected,next в порядке KEYS.
var applyStockScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	local current = redis.call('HGET', key, 'stock')
	if not current then
		return -1
	end
	if tonumber(current) ~= tonumber(ARGV[2 * i - 1]) then
		return -2
	end
end
for i, key in ipairs(KEYS) do
	redis.call('HSET', key, 'stock', ARGV[2 * i])
end
return 1
`)

var setStockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[1], 'stock', ARGV[1])
return 1
`)

// Option настраивает каталог.
type Option func(*ProductCatalog)

// WithKeyPrefix меняет префикс ключей товаров.
func WithKeyPrefix(prefix string) Option {
	return func(c *ProductCatalog) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// ProductCatalog хранит товары в Redis: один hash на товар.
type ProductCatalog struct {
	client redis.UniversalClient
	prefix string
}

// NewProductCatalog создаёт каталог поверх готового клиента.
func NewProductCatalog(client redis.UniversalClient, opts ...Option) *ProductCatalog {
	c := &ProductCatalog{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ProductCatalog) key(id string) string {
	return c.prefix + id
}

// Upsert записывает товар целиком.
func (c *ProductCatalog) Upsert(ctx context.Context, product domain.Product) error {
	if product.Stock < 0 {
		return fmt.Errorf("product %s: negative stock %d", product.ID, product.Stock)
	}
	err := c.client.HSet(ctx, c.key(product.ID),
		fieldName, product.Name,
		fieldPrice, product.Price.String(),
		fieldStock, product.Stock,
	).Err()
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	return nil
}

func (c *ProductCatalog) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	values, err := c.client.HGetAll(ctx, c.key(id)).Result()
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	if len(values) == 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}

	price, err := decimal.NewFromString(values[fieldPrice])
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: parse price: %w", id, err)
	}
	stock, err := strconv.ParseInt(values[fieldStock], 10, 64)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: parse stock: %w", id, err)
	}
	return domain.Product{ID: id, Name: values[fieldName], Price: price, Stock: stock}, nil
}

func (c *ProductCatalog) SetStock(ctx context.Context, id string, stock int64) error {
	if stock < 0 {
		return fmt.Errorf("product %s: negative stock %d", id, stock)
	}
	res, err := setStockScript.Run(ctx, c.client, []string{c.key(id)}, stock).Int()
	if err != nil {
		return fmt.Errorf("set stock %s: %w", id, err)
	}
	if res == applyNotFound {
		return domain.ErrProductNotFound
	}
	return nil
}

// ApplyStock выполняет всю пачку одним Lua-скриптом, поэтому она атомарна на сервере.
func (c *ProductCatalog) ApplyStock(ctx context.Context, changes []domain.StockChange) error {
	if len(changes) == 0 {
		return nil
	}

	keys := make([]string, 0, len(changes))
	args := make([]any, 0, 2*len(changes))
	seen := make(map[string]struct{}, len(changes))
	for _, ch := range changes {
		if _, dup := seen[ch.ProductID]; dup {
			return fmt.Errorf("duplicate stock change for product %s", ch.ProductID)
		}
		seen[ch.ProductID] = struct{}{}
		if ch.Next < 0 {
			return fmt.Errorf("product %s: negative stock %d", ch.ProductID, ch.Next)
		}
		keys = append(keys, c.key(ch.ProductID))
		args = append(args, ch.Expected, ch.Next)
	}

	res, err := applyStockScript.Run(ctx, c.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("apply stock: %w", err)
	}
	switch res {
	case applyApplied:
		return nil
	case applyNotFound:
		return domain.ErrProductNotFound
	case applyConflict:
		return domain.ErrStockConflict
	default:
		return fmt.Errorf("apply stock: unexpected script result %d", res)
	}
}

// Ping проверяет соединение с Redis.
func (c *ProductCatalog) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("redis catalog is not initialized")
	}
	return c.client.Ping(ctx).Err()
}

var _ domain.ProductCatalog = (*ProductCatalog)(nil)
