package customers

import "time"

type Customer struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	CpfCnpj   string     `json:"cpf_cnpj"`
	Phone     string     `json:"phone,omitempty"`
	Address   string     `json:"address,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}
