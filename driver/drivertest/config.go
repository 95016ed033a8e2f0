package drivertest

import "time"

// Config is a static driver.Config for tests.
type Config struct {
	Driver         string
	QueueName      string
	PriorityQueues map[string]string
	SleepInterval  time.Duration
	PollTimeout    time.Duration
	BatchSize      int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
	SQSAttributes      map[string]string

	SQLiteFile  string
	PostgresURL string

	NATSURL            string
	RabbitMQURL        string
	KafkaBrokers       []string
	KafkaConsumerGroup string
}

func (c Config) GetDriver() string                        { return c.Driver }
func (c Config) GetQueueName() string                     { return c.QueueName }
func (c Config) GetPriorityQueues() map[string]string     { return c.PriorityQueues }
func (c Config) GetSleepInterval() time.Duration          { return c.SleepInterval }
func (c Config) GetPollTimeout() time.Duration            { return c.PollTimeout }
func (c Config) GetBatchSize() int                        { return c.BatchSize }
func (c Config) GetRedisAddr() string                     { return c.RedisAddr }
func (c Config) GetRedisPassword() string                 { return c.RedisPassword }
func (c Config) GetRedisDB() int                          { return c.RedisDB }
func (c Config) GetAWSRegion() string                     { return c.AWSRegion }
func (c Config) GetAWSAccessKeyID() string                { return c.AWSAccessKeyID }
func (c Config) GetAWSSecretAccessKey() string            { return c.AWSSecretAccessKey }
func (c Config) GetAWSEndpoint() string                   { return c.AWSEndpoint }
func (c Config) GetSQSQueueAttributes() map[string]string { return c.SQSAttributes }
func (c Config) GetSQLiteFile() string                    { return c.SQLiteFile }
func (c Config) GetPostgresURL() string                   { return c.PostgresURL }
func (c Config) GetNATSURL() string                       { return c.NATSURL }
func (c Config) GetRabbitMQURL() string                   { return c.RabbitMQURL }
func (c Config) GetKafkaBrokers() []string                { return c.KafkaBrokers }
func (c Config) GetKafkaConsumerGroup() string            { return c.KafkaConsumerGroup }
