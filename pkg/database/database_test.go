package database

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/weiawesome/friendlychat/pkg/log"
)

type widget struct {
	ID   uint
	Name string
}

func TestNewSQLite(t *testing.T) {
	db, err := New(&Config{
		Driver:   "sqlite",
		FilePath: filepath.Join(t.TempDir(), "nested", "chat.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, AutoMigrate(db, &widget{}))
	require.NoError(t, db.Create(&widget{Name: "a"}).Error)

	var count int64
	require.NoError(t, db.Model(&widget{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := New(&Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, parseLogLevel("silent"))
	assert.Equal(t, logger.Info, parseLogLevel("INFO"))
	assert.Equal(t, logger.Warn, parseLogLevel(""))
}

func TestDialectorNames(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql"} {
		d, err := dialector(&Config{Driver: driver, Host: "db", Port: 1, User: "u", DBName: "chat"})
		require.NoError(t, err)
		assert.Equal(t, driver, d.Name())
	}

	d, err := dialector(&Config{Driver: "sqlite", FilePath: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
}

func TestGormWriterUsesGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	log.SetGlobal(zerolog.New(&buf))
	t.Cleanup(func() { log.SetGlobal(zerolog.Nop()) })

	gormWriter{}.Printf("%s slow query %d\n", "chat.db", 3)
	assert.Contains(t, buf.String(), `"component":"gorm"`)
	assert.Contains(t, buf.String(), `chat.db slow query 3"`)
}
