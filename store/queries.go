package store

import (
	"context"

	"channel-sub-bot/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureUser inserts the user on first contact. The referrer is only ever
// recorded on that first insert; later calls just refresh the username.
func (s *Store) EnsureUser(ctx context.Context, id int64, username string, referrerID *int64) (bool, error) {
	var created bool
	err := s.do(ctx, "ensure user", func(db *gorm.DB) error {
		u := model.User{ID: id, Username: username, ReferrerID: referrerID}
		res := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).Create(&u)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1
		if created || username == "" {
			return nil
		}
		return db.Model(&model.User{}).Where("id = ?", id).Update("username", username).Error
	})
	return created, err
}

func (s *Store) User(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := s.do(ctx, "get user", func(db *gorm.DB) error {
		return translate(db.First(&u, "id = ?", id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserIDs lists every known user, oldest first.
func (s *Store) UserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.do(ctx, "list users", func(db *gorm.DB) error {
		return db.Model(&model.User{}).Order("created_at, id").Pluck("id", &ids).Error
	})
	return ids, err
}

func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.do(ctx, "get setting", func(db *gorm.DB) error {
		var err error
		v, err = (&Tx{db: db}).Setting(key)
		return err
	})
	return v, err
}

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	var rows []model.Setting
	err := s.do(ctx, "list settings", func(db *gorm.DB) error {
		return db.Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	return s.do(ctx, "put setting", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&model.Setting{Key: key, Value: value}).Error
	})
}

func (s *Store) PaymentMethods(ctx context.Context) ([]model.PaymentMethod, error) {
	var out []model.PaymentMethod
	err := s.do(ctx, "list payment methods", func(db *gorm.DB) error {
		return db.Order("id").Find(&out).Error
	})
	return out, err
}

func (s *Store) PaymentMethod(ctx context.Context, id uint) (*model.PaymentMethod, error) {
	var m model.PaymentMethod
	err := s.do(ctx, "get payment method", func(db *gorm.DB) error {
		return translate(db.First(&m, id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreatePaymentMethod(ctx context.Context, name, destination string) (*model.PaymentMethod, error) {
	m := model.PaymentMethod{Name: name, Destination: destination}
	err := s.do(ctx, "create payment method", func(db *gorm.DB) error {
		m.ID = 0
		return db.Create(&m).Error
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) UpdatePaymentMethod(ctx context.Context, id uint, name, destination string) error {
	return s.do(ctx, "update payment method", func(db *gorm.DB) error {
		res := db.Model(&model.PaymentMethod{}).Where("id = ?", id).
			Updates(map[string]any{"name": name, "destination": destination})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeletePaymentMethod removes the method. Payments keep pointing at its id.
func (s *Store) DeletePaymentMethod(ctx context.Context, id uint) error {
	return s.do(ctx, "delete payment method", func(db *gorm.DB) error {
		res := db.Delete(&model.PaymentMethod{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) ChannelLinks(ctx context.Context) ([]model.ChannelLink, error) {
	var out []model.ChannelLink
	err := s.do(ctx, "list channel links", func(db *gorm.DB) error {
		return db.Order("id").Find(&out).Error
	})
	return out, err
}

// AddChannelLinks adds links to the invite pool, skipping ones already there,
// and reports how many were new.
func (s *Store) AddChannelLinks(ctx context.Context, links []string) (int, error) {
	var added int
	err := s.do(ctx, "add channel links", func(db *gorm.DB) error {
		added = 0
		return db.Transaction(func(tx *gorm.DB) error {
			for _, l := range links {
				res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.ChannelLink{Link: l})
				if res.Error != nil {
					return res.Error
				}
				added += int(res.RowsAffected)
			}
			return nil
		})
	})
	return added, err
}

func (s *Store) DeleteChannelLink(ctx context.Context, id uint) error {
	return s.do(ctx, "delete channel link", func(db *gorm.DB) error {
		res := db.Delete(&model.ChannelLink{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) Payment(ctx context.Context, id uint) (*model.Payment, error) {
	var p model.Payment
	err := s.do(ctx, "get payment", func(db *gorm.DB) error {
		return translate(db.First(&p, id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) Withdrawal(ctx context.Context, id uint) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := s.do(ctx, "get withdrawal", func(db *gorm.DB) error {
		return translate(db.First(&w, id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) PendingPayments(ctx context.Context) ([]model.Payment, error) {
	var out []model.Payment
	err := s.do(ctx, "list pending payments", func(db *gorm.DB) error {
		return db.Where("status = ?", model.PaymentPending).Order("created_at, id").Find(&out).Error
	})
	return out, err
}

func (s *Store) PendingWithdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	var out []model.Withdrawal
	err := s.do(ctx, "list pending withdrawals", func(db *gorm.DB) error {
		return db.Where("status = ?", model.WithdrawalPending).Order("created_at, id").Find(&out).Error
	})
	return out, err
}

func (s *Store) HasPendingWithdrawal(ctx context.Context, userID int64) (bool, error) {
	var pending bool
	err := s.do(ctx, "check pending withdrawal", func(db *gorm.DB) error {
		var err error
		pending, err = hasPendingWithdrawal(db, userID)
		return err
	})
	return pending, err
}
