package mocks

//go:generate mockery --name Deliverer --srcpkg github.com/aevon-lab/carbonrelay/internal/ingestion --output ./ingestion --outpkg ingestionmocks --with-expecter
//go:generate mockery --name Sink --srcpkg github.com/aevon-lab/carbonrelay/internal/sink --output ./sink --outpkg sinkmocks --with-expecter
