package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/worldsun-app/finportal/internal/domain/model"
)

var tracer = otel.Tracer("github.com/worldsun-app/finportal/internal/repository")

// RedisCounterStore — счётчики в хешах Redis. Инкременты атомарны (HINCRBY),
// связанные поля пишутся одной транзакцией MULTI/EXEC.
//
// Ключи:
//
//	{prefix}:file:downloads   fileName → count
//	{prefix}:file:last        fileName → RFC 3339
//	{prefix}:daily:downloads  YYYY-MM-DD → count
//	{prefix}:daily:visits     YYYY-MM-DD → count
//	{prefix}:user:logins      email → count
//	{prefix}:user:last        email → RFC 3339
//	{prefix}:device           deviceType → count
//	{prefix}:browser          browser → count
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCounterStore создаёт хранилище счётчиков в Redis.
func NewRedisCounterStore(client *redis.Client, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "fp"
	}
	return &RedisCounterStore{client: client, prefix: prefix}
}

func (s *RedisCounterStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// Ping проверяет соединение с Redis.
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает соединение.
func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}

func (s *RedisCounterStore) IncrFileDownload(ctx context.Context, fileName string, at time.Time) error {
	fileName = strings.TrimSpace(fileName)
	ctx, span := tracer.Start(ctx, "redis.incr_file_download",
		trace.WithAttributes(attribute.String("file_name", fileName)),
	)
	defer span.End()

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, s.key("file", "downloads"), fileName, 1)
		p.HSet(ctx, s.key("file", "last"), fileName, at.UTC().Format(time.RFC3339))
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("инкремент скачиваний %s: %w", fileName, err)
	}
	return nil
}

func (s *RedisCounterStore) IncrDaily(ctx context.Context, date string, metric DailyMetric) error {
	ctx, span := tracer.Start(ctx, "redis.incr_daily",
		trace.WithAttributes(
			attribute.String("date", date),
			attribute.String("metric", string(metric)),
		),
	)
	defer span.End()

	if err := s.client.HIncrBy(ctx, s.key("daily", string(metric)), date, 1).Err(); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("инкремент дневной статистики %s: %w", date, err)
	}
	return nil
}

func (s *RedisCounterStore) IncrUserLogin(ctx context.Context, email string, at time.Time) error {
	email = strings.ToLower(strings.TrimSpace(email))
	ctx, span := tracer.Start(ctx, "redis.incr_user_login")
	defer span.End()

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, s.key("user", "logins"), email, 1)
		p.HSet(ctx, s.key("user", "last"), email, at.UTC().Format(time.RFC3339))
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("инкремент входов: %w", err)
	}
	return nil
}

func (s *RedisCounterStore) IncrDevice(ctx context.Context, device string) error {
	return s.incrKey(ctx, "device", device)
}

func (s *RedisCounterStore) IncrBrowser(ctx context.Context, browser string) error {
	return s.incrKey(ctx, "browser", browser)
}

func (s *RedisCounterStore) incrKey(ctx context.Context, hash, field string) error {
	ctx, span := tracer.Start(ctx, "redis.incr_"+hash,
		trace.WithAttributes(attribute.String(hash, field)),
	)
	defer span.End()

	if err := s.client.HIncrBy(ctx, s.key(hash), field, 1).Err(); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("инкремент %s/%s: %w", hash, field, err)
	}
	return nil
}

func (s *RedisCounterStore) FileStat(ctx context.Context, fileName string) (*model.FileStat, error) {
	fileName = strings.TrimSpace(fileName)
	ctx, span := tracer.Start(ctx, "redis.file_stat",
		trace.WithAttributes(attribute.String("file_name", fileName)),
	)
	defer span.End()

	count, err := s.client.HGet(ctx, s.key("file", "downloads"), fileName).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("статистика файла: %w", err)
	}
	last, err := s.client.HGet(ctx, s.key("file", "last"), fileName).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		recordSpanError(span, err)
		return nil, fmt.Errorf("статистика файла: %w", err)
	}
	return &model.FileStat{FileName: fileName, DownloadCount: count, LastDownloaded: parseRFC3339(last)}, nil
}

func (s *RedisCounterStore) TopFiles(ctx context.Context, n int) ([]model.FileStat, error) {
	ctx, span := tracer.Start(ctx, "redis.top_files")
	defer span.End()

	counts, last, err := s.hashPair(ctx, s.key("file", "downloads"), s.key("file", "last"))
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("топ файлов: %w", err)
	}
	out := make([]model.FileStat, 0, len(counts))
	for _, c := range counts {
		out = append(out, model.FileStat{FileName: c.Key, DownloadCount: c.Count, LastDownloaded: parseRFC3339(last[c.Key])})
	}
	return limit(out, n), nil
}

func (s *RedisCounterStore) TopUsers(ctx context.Context, n int) ([]model.UserStat, error) {
	ctx, span := tracer.Start(ctx, "redis.top_users")
	defer span.End()

	counts, last, err := s.hashPair(ctx, s.key("user", "logins"), s.key("user", "last"))
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("топ пользователей: %w", err)
	}
	out := make([]model.UserStat, 0, len(counts))
	for _, c := range counts {
		out = append(out, model.UserStat{Email: c.Key, LoginCount: c.Count, LastLogin: parseRFC3339(last[c.Key])})
	}
	return limit(out, n), nil
}

// hashPair читает хеш счётчиков (отсортированный по убыванию)
// и парный хеш отметок времени.
func (s *RedisCounterStore) hashPair(ctx context.Context, countKey, lastKey string) ([]model.CountStat, map[string]string, error) {
	var countsCmd, lastCmd *redis.MapStringStringCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		countsCmd = p.HGetAll(ctx, countKey)
		lastCmd = p.HGetAll(ctx, lastKey)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	counts, err := toCounts(countsCmd.Val())
	if err != nil {
		return nil, nil, err
	}
	return counts, lastCmd.Val(), nil
}

func (s *RedisCounterStore) Devices(ctx context.Context) ([]model.CountStat, error) {
	return s.counts(ctx, "device")
}

func (s *RedisCounterStore) Browsers(ctx context.Context) ([]model.CountStat, error) {
	return s.counts(ctx, "browser")
}

func (s *RedisCounterStore) counts(ctx context.Context, hash string) ([]model.CountStat, error) {
	ctx, span := tracer.Start(ctx, "redis."+hash+"_counts")
	defer span.End()

	raw, err := s.client.HGetAll(ctx, s.key(hash)).Result()
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("счётчики %s: %w", hash, err)
	}
	out, err := toCounts(raw)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("счётчики %s: %w", hash, err)
	}
	return out, nil
}

func (s *RedisCounterStore) DailyRange(ctx context.Context, from, to string) ([]model.DailyStat, error) {
	ctx, span := tracer.Start(ctx, "redis.daily_range",
		trace.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
	defer span.End()

	var downloadsCmd, visitsCmd *redis.MapStringStringCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		downloadsCmd = p.HGetAll(ctx, s.key("daily", string(MetricDownloads)))
		visitsCmd = p.HGetAll(ctx, s.key("daily", string(MetricVisits)))
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("дневная статистика: %w", err)
	}

	days := map[string]*model.DailyStat{}
	get := func(date string) *model.DailyStat {
		d, ok := days[date]
		if !ok {
			d = &model.DailyStat{Date: date}
			days[date] = d
		}
		return d
	}
	for date, v := range downloadsCmd.Val() {
		if date >= from && date <= to {
			n, _ := strconv.ParseInt(v, 10, 64)
			get(date).Downloads = n
		}
	}
	for date, v := range visitsCmd.Val() {
		if date >= from && date <= to {
			n, _ := strconv.ParseInt(v, 10, 64)
			get(date).Visits = n
		}
	}

	out := make([]model.DailyStat, 0, len(days))
	for _, d := range days {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	span.SetAttributes(attribute.Int("days", len(out)))
	return out, nil
}

// RedisReadinessChecker — проверка готовности хранилища счётчиков.
type RedisReadinessChecker struct {
	store   *RedisCounterStore
	timeout time.Duration
}

// NewRedisReadinessChecker создаёт проверку готовности Redis.
func NewRedisReadinessChecker(store *RedisCounterStore, timeout time.Duration) *RedisReadinessChecker {
	return &RedisReadinessChecker{store: store, timeout: timeout}
}

// CheckReady выполняет PING.
func (c *RedisReadinessChecker) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.store.Ping(ctx); err != nil {
		return "fail", err.Error()
	}
	return "ok", "Redis доступен"
}

func toCounts(raw map[string]string) ([]model.CountStat, error) {
	out := make([]model.CountStat, 0, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("некорректное значение счётчика %q: %w", k, err)
		}
		out = append(out, model.CountStat{Key: k, Count: n})
	}
	sortCounts(out)
	return out, nil
}

// sortCounts упорядочивает по убыванию count, при равенстве по ключу.
func sortCounts(c []model.CountStat) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Count != c[j].Count {
			return c[i].Count > c[j].Count
		}
		return c[i].Key < c[j].Key
	})
}

func limit[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}

func parseRFC3339(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
