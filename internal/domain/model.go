package domain

import "time"

// MessageModel is the GORM model for messages table.
type MessageModel struct {
	ID            string    `gorm:"type:varchar(36);primaryKey"`
	UserID        string    `gorm:"type:varchar(128);index;not null"`
	Name          string    `gorm:"type:varchar(255)"`
	ProfilePicURL string    `gorm:"type:text"`
	Text          string    `gorm:"type:text"`
	ImageURL      string    `gorm:"type:text"`
	StorageURI    string    `gorm:"type:text"`
	UploadState   string    `gorm:"type:varchar(16);index"`
	Timestamp     int64     `gorm:"column:timestamp_ms;index;not null"`
	Revision      int       `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:            m.ID,
		UserID:        m.UserID,
		Name:          m.Name,
		ProfilePicURL: m.ProfilePicURL,
		Text:          m.Text,
		ImageURL:      m.ImageURL,
		StorageURI:    m.StorageURI,
		UploadState:   m.UploadState,
		Timestamp:     m.Timestamp,
		Revision:      m.Revision,
	}
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:            msg.ID,
		UserID:        msg.UserID,
		Name:          msg.Name,
		ProfilePicURL: msg.ProfilePicURL,
		Text:          msg.Text,
		ImageURL:      msg.ImageURL,
		StorageURI:    msg.StorageURI,
		UploadState:   msg.UploadState,
		Timestamp:     msg.Timestamp,
		Revision:      msg.Revision,
	}
}
