package mocks

//go:generate mockery --name GCSClient --dir ../ --output .
