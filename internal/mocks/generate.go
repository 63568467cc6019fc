package mocks

//go:generate mockery --name Handler --srcpkg github.com/aevon-lab/report-core/internal/dispatcher --output ./dispatcher --outpkg dispatchermocks --with-expecter
//go:generate mockery --name DeadLetterSink --srcpkg github.com/aevon-lab/report-core/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
//go:generate mockery --name Publisher --srcpkg github.com/aevon-lab/report-core/internal/ingestion --output ./ingestion --outpkg ingestionmocks --with-expecter
