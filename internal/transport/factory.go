// internal/transport/factory.go
package transport

import (
	"fmt"

	"go.uber.org/zap"

	"link-service/internal/config"
	"link-service/internal/model"
)

// New creates the transport for kind from its configuration section
func New(kind model.TransportKind, cfg config.TransportsConfig, logger *zap.Logger) (Transport, error) {
	switch kind {
	case model.TransportSerial:
		if _, err := (PortOptions{
			BaudRate: cfg.Serial.BaudRate,
			DataBits: cfg.Serial.DataBits,
			StopBits: cfg.Serial.StopBits,
			Parity:   cfg.Serial.Parity,
		}).Normalize(); err != nil {
			return nil, fmt.Errorf("transports.serial: %w", err)
		}
		logger.Info("Creating serial transport", zap.Int("baud_rate", cfg.Serial.BaudRate))
		return NewSerial(cfg.Serial, logger), nil
	case model.TransportRFCOMM:
		logger.Info("Creating RFCOMM transport", zap.String("adapter", cfg.RFCOMM.Adapter))
		return NewRFCOMM(cfg.RFCOMM, logger), nil
	case model.TransportTCP:
		logger.Info("Creating TCP bridge transport")
		return NewTCP(cfg.TCP, logger), nil
	case model.TransportUSB:
		if cfg.USB.InEndpoint&0x0f == 0 || cfg.USB.OutEndpoint&0x0f == 0 {
			return nil, fmt.Errorf("transports.usb: endpoint 0 is the control endpoint")
		}
		logger.Info("Creating USB bridge transport", zap.Int("interface", cfg.USB.Interface))
		return NewUSB(cfg.USB, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", kind)
	}
}
