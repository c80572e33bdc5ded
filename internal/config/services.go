package config

import "fmt"

// Default exchange endpoints. Overridable for local runs against
// cmd/krakensim.
const (
	DefaultWSURL   = "wss://ws.kraken.com/v2"
	DefaultRESTURL = "https://api.kraken.com/0/public/Trades"
)

// Trades configures the trade-ingestion service.
type Trades struct {
	Base

	OutputTopic    string
	ProcessingMode string // live | historical
	ProductIDs     []string
	LastNDays      int
	RESTThrottleMS int
	WSURL          string
	RESTURL        string
}

// LoadTrades reads the tradefeed configuration. Fatal on invalid input.
func LoadTrades() *Trades {
	e := env{prefix: "TRADES_"}
	c := &Trades{
		Base:           e.base("trades", ":9101"),
		OutputTopic:    e.get("OUTPUT_TOPIC", "trades"),
		ProcessingMode: e.get("PROCESSING_MODE", "live"),
		ProductIDs:     parseList(e.get("PRODUCT_IDS", "BTC/USD")),
		LastNDays:      e.getInt("LAST_N_DAYS", 1),
		RESTThrottleMS: e.getInt("REST_THROTTLE_MS", 1000),
		WSURL:          e.get("WS_URL", DefaultWSURL),
		RESTURL:        e.get("REST_URL", DefaultRESTURL),
	}
	fatalInvalid("trades", c.Validate())
	c.WarnIfProdDebug()
	return c
}

func (c *Trades) Validate() error {
	if err := c.Base.Validate(); err != nil {
		return err
	}
	if err := validateTopic("output topic", c.OutputTopic); err != nil {
		return err
	}
	if err := validateMode(c.ProcessingMode); err != nil {
		return err
	}
	if len(c.ProductIDs) == 0 {
		return fmt.Errorf("product ids must not be empty")
	}
	if c.LastNDays <= 0 {
		return fmt.Errorf("last n days must be > 0, got %d", c.LastNDays)
	}
	if c.RESTThrottleMS <= 0 {
		return fmt.Errorf("rest throttle must be > 0 ms, got %d", c.RESTThrottleMS)
	}
	if c.WSURL == "" || c.RESTURL == "" {
		return fmt.Errorf("exchange endpoints must not be empty")
	}
	return nil
}

// Candles configures the candle-aggregation service.
type Candles struct {
	Base

	InputTopic            string
	OutputTopic           string
	ConsumerGroup         string
	CandleSeconds         int
	ProcessingMode        string
	EmitIncompleteCandles bool
	SQLitePath            string // empty disables the candle archive
}

// LoadCandles reads the candleengine configuration. Fatal on invalid input.
func LoadCandles() *Candles {
	e := env{prefix: "CANDLES_"}
	c := &Candles{
		Base:                  e.base("candles", ":9102"),
		InputTopic:            e.get("INPUT_TOPIC", "trades"),
		OutputTopic:           e.get("OUTPUT_TOPIC", "candles"),
		ConsumerGroup:         e.get("CONSUMER_GROUP", "candles_consumer_group"),
		CandleSeconds:         e.getInt("CANDLE_SECONDS", 60),
		ProcessingMode:        e.get("PROCESSING_MODE", "live"),
		EmitIncompleteCandles: e.getBool("EMIT_INCOMPLETE_CANDLES", true),
		SQLitePath:            e.get("SQLITE_PATH", ""),
	}
	fatalInvalid("candles", c.Validate())
	c.WarnIfProdDebug()
	return c
}

func (c *Candles) Validate() error {
	if err := c.Base.Validate(); err != nil {
		return err
	}
	if err := validateTopic("input topic", c.InputTopic); err != nil {
		return err
	}
	if err := validateTopic("output topic", c.OutputTopic); err != nil {
		return err
	}
	if err := validateGroup("consumer group", c.ConsumerGroup); err != nil {
		return err
	}
	if c.CandleSeconds < 1 || c.CandleSeconds > 86400 {
		return fmt.Errorf("candle seconds must be 1-86400, got %d", c.CandleSeconds)
	}
	return validateMode(c.ProcessingMode)
}

// Indicators configures the technical-indicators service.
type Indicators struct {
	Base

	InputTopic        string
	OutputTopic       string
	ConsumerGroup     string
	CandleSeconds     int
	ProcessingMode    string
	MaxCandlesInState int
	SMAPeriods        []int
	EMAPeriods        []int
	RSIPeriods        []int

	TableName          string
	RisingWaveHost     string
	RisingWavePort     int
	RisingWaveUser     string
	RisingWavePassword string
	RisingWaveDatabase string
	SinkMode           string // table | kafka
	KafkaTopic         string
	KafkaBrokerAddress string

	SnapshotIntervalSeconds int
	SQLitePath              string // empty disables the snapshot mirror
}

// LoadIndicators reads the indicator-engine configuration. Fatal on
// invalid input.
func LoadIndicators() *Indicators {
	e := env{prefix: "TECHNICAL_INDICATORS_"}
	c := &Indicators{
		Base:              e.base("technical-indicators", ":9103"),
		InputTopic:        e.get("INPUT_TOPIC", "candles"),
		OutputTopic:       e.get("OUTPUT_TOPIC", "technical_indicators"),
		ConsumerGroup:     e.get("CONSUMER_GROUP", "technical_indicators_consumer_group"),
		CandleSeconds:     e.getInt("CANDLE_SECONDS", 60),
		ProcessingMode:    e.get("PROCESSING_MODE", "live"),
		MaxCandlesInState: e.getInt("MAX_CANDLES_IN_STATE", 70),

		TableName:          e.get("TABLE_NAME_IN_RISINGWAVE", "technical_indicators"),
		RisingWaveHost:     e.get("RISINGWAVE_HOST", "localhost"),
		RisingWavePort:     e.getInt("RISINGWAVE_PORT", 4567),
		RisingWaveUser:     e.get("RISINGWAVE_USER", "root"),
		RisingWavePassword: e.get("RISINGWAVE_PASSWORD", ""),
		RisingWaveDatabase: e.get("RISINGWAVE_DATABASE", "dev"),
		SinkMode:           e.get("RISINGWAVE_SINK_MODE", "table"),
		KafkaTopic:         e.get("KAFKA_TOPIC", "technical_indicators"),
		KafkaBrokerAddress: e.get("KAFKA_BROKER_ADDRESS", "localhost:9092"),

		SnapshotIntervalSeconds: e.getInt("SNAPSHOT_INTERVAL_SECONDS", 60),
		SQLitePath:              e.get("SQLITE_PATH", ""),
	}

	var err error
	if c.SMAPeriods, err = parsePeriodList(e.get("SMA_PERIODS", "7,14,21,60")); err != nil {
		fatalInvalid("technical-indicators", fmt.Errorf("sma periods: %w", err))
	}
	if c.EMAPeriods, err = parsePeriodList(e.get("EMA_PERIODS", "7,14,21,60")); err != nil {
		fatalInvalid("technical-indicators", fmt.Errorf("ema periods: %w", err))
	}
	if c.RSIPeriods, err = parsePeriodList(e.get("RSI_PERIODS", "7,14,21,60")); err != nil {
		fatalInvalid("technical-indicators", fmt.Errorf("rsi periods: %w", err))
	}

	fatalInvalid("technical-indicators", c.Validate())
	c.WarnIfProdDebug()
	return c
}

func (c *Indicators) Validate() error {
	if err := c.Base.Validate(); err != nil {
		return err
	}
	if err := validateTopic("input topic", c.InputTopic); err != nil {
		return err
	}
	if err := validateTopic("output topic", c.OutputTopic); err != nil {
		return err
	}
	if err := validateGroup("consumer group", c.ConsumerGroup); err != nil {
		return err
	}
	if c.CandleSeconds < 1 || c.CandleSeconds > 86400 {
		return fmt.Errorf("candle seconds must be 1-86400, got %d", c.CandleSeconds)
	}
	if err := validateMode(c.ProcessingMode); err != nil {
		return err
	}
	if c.MaxCandlesInState < 1 || c.MaxCandlesInState > 10000 {
		return fmt.Errorf("max candles in state must be 1-10000, got %d", c.MaxCandlesInState)
	}
	if l := len(c.TableName); l < 1 || l > 63 {
		return fmt.Errorf("table name must be 1-63 chars, got %d", l)
	}
	if !tableRe.MatchString(c.TableName) {
		return fmt.Errorf("table name %q must match [a-zA-Z][a-zA-Z0-9_]*", c.TableName)
	}
	if c.RisingWavePort < 1 || c.RisingWavePort > 65535 {
		return fmt.Errorf("risingwave port %d out of range", c.RisingWavePort)
	}
	switch c.SinkMode {
	case "table", "kafka":
	default:
		return fmt.Errorf("sink mode %q not one of table/kafka", c.SinkMode)
	}
	if c.SinkMode == "kafka" {
		if err := validateTopic("kafka topic", c.KafkaTopic); err != nil {
			return err
		}
		if err := validateHostPort("kafka broker", c.KafkaBrokerAddress); err != nil {
			return err
		}
	}
	if c.SnapshotIntervalSeconds <= 0 {
		return fmt.Errorf("snapshot interval must be > 0 s, got %d", c.SnapshotIntervalSeconds)
	}
	return nil
}

// Predictions configures the prediction service.
type Predictions struct {
	Base

	InputTopic               string
	OutputTopic              string
	ConsumerGroup            string
	CandleSeconds            int
	ProcessingMode           string
	ModelName                string
	ModelVersion             string
	PredictionHorizonSeconds int
}

// LoadPredictions reads the prediction-service configuration. Fatal on
// invalid input.
func LoadPredictions() *Predictions {
	e := env{prefix: "PREDICTIONS_"}
	c := &Predictions{
		Base:                     e.base("predictions", ":9104"),
		InputTopic:               e.get("INPUT_TOPIC", "technical_indicators"),
		OutputTopic:              e.get("OUTPUT_TOPIC", "predictions"),
		ConsumerGroup:            e.get("CONSUMER_GROUP", "predictions_consumer_group"),
		CandleSeconds:            e.getInt("CANDLE_SECONDS", 60),
		ProcessingMode:           e.get("PROCESSING_MODE", "live"),
		ModelName:                e.get("MODEL_NAME", "default_model"),
		ModelVersion:             e.get("MODEL_VERSION", "latest"),
		PredictionHorizonSeconds: e.getInt("PREDICTION_HORIZON_SECONDS", 300),
	}
	fatalInvalid("predictions", c.Validate())
	c.WarnIfProdDebug()
	return c
}

func (c *Predictions) Validate() error {
	if err := c.Base.Validate(); err != nil {
		return err
	}
	if err := validateTopic("input topic", c.InputTopic); err != nil {
		return err
	}
	if err := validateTopic("output topic", c.OutputTopic); err != nil {
		return err
	}
	if err := validateGroup("consumer group", c.ConsumerGroup); err != nil {
		return err
	}
	if c.CandleSeconds < 1 || c.CandleSeconds > 86400 {
		return fmt.Errorf("candle seconds must be 1-86400, got %d", c.CandleSeconds)
	}
	if err := validateMode(c.ProcessingMode); err != nil {
		return err
	}
	if c.ModelName == "" {
		return fmt.Errorf("model name must not be empty")
	}
	if c.ModelVersion == "" {
		return fmt.Errorf("model version must not be empty")
	}
	if c.PredictionHorizonSeconds < 1 || c.PredictionHorizonSeconds > 86400 {
		return fmt.Errorf("prediction horizon must be 1-86400 s, got %d", c.PredictionHorizonSeconds)
	}
	return nil
}

// GroupStartID maps the processing mode to the stream position a fresh
// consumer group starts from: live groups only want new entries,
// historical groups read from the beginning.
func GroupStartID(mode string) string {
	if mode == "historical" {
		return "0"
	}
	return "$"
}
